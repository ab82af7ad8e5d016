package identity

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/resonantbio/portal/internal/platform/audit"
	"github.com/resonantbio/portal/internal/platform/auth"
	"github.com/resonantbio/portal/pkg/errs"
)

type memEmployeeRepo struct {
	items map[uuid.UUID]*Employee
}

func newMemEmployeeRepo() *memEmployeeRepo {
	return &memEmployeeRepo{items: map[uuid.UUID]*Employee{}}
}

func (r *memEmployeeRepo) Create(_ context.Context, e *Employee) error {
	e.ID = uuid.New()
	cp := *e
	r.items[e.ID] = &cp
	return nil
}

func (r *memEmployeeRepo) GetByID(_ context.Context, id uuid.UUID) (*Employee, error) {
	e, ok := r.items[id]
	if !ok || e.DeletedAt != nil {
		return nil, pgx.ErrNoRows
	}
	cp := *e
	return &cp, nil
}

func (r *memEmployeeRepo) Update(_ context.Context, e *Employee) error {
	cp := *e
	r.items[e.ID] = &cp
	return nil
}

func (r *memEmployeeRepo) SoftDelete(_ context.Context, id uuid.UUID) error {
	if e, ok := r.items[id]; ok {
		now := time.Now()
		e.DeletedAt = &now
	}
	return nil
}

func (r *memEmployeeRepo) List(_ context.Context, limit, offset int) ([]*Employee, int, error) {
	var out []*Employee
	for _, e := range r.items {
		if e.DeletedAt == nil {
			out = append(out, e)
		}
	}
	return out, len(out), nil
}

type memAccountRepo struct {
	items map[uuid.UUID]*Account
}

func newMemAccountRepo() *memAccountRepo {
	return &memAccountRepo{items: map[uuid.UUID]*Account{}}
}

func (r *memAccountRepo) Create(_ context.Context, a *Account) error {
	a.ID = uuid.New()
	cp := *a
	r.items[a.ID] = &cp
	return nil
}

func (r *memAccountRepo) GetByID(_ context.Context, id uuid.UUID) (*Account, error) {
	a, ok := r.items[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *a
	return &cp, nil
}

func (r *memAccountRepo) Get(_ context.Context, employeeID, orgID uuid.UUID) (*Account, error) {
	for _, a := range r.items {
		if a.EmployeeID == employeeID && a.OrganizationID == orgID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *memAccountRepo) Update(_ context.Context, a *Account) error {
	cp := *a
	r.items[a.ID] = &cp
	return nil
}

func (r *memAccountRepo) Delete(_ context.Context, id uuid.UUID) error {
	delete(r.items, id)
	return nil
}

func (r *memAccountRepo) ListByOrganization(_ context.Context, orgID uuid.UUID, limit, offset int) ([]*Account, int, error) {
	var out []*Account
	for _, a := range r.items {
		if a.OrganizationID == orgID {
			out = append(out, a)
		}
	}
	return out, len(out), nil
}

func (r *memAccountRepo) ListByEmployee(_ context.Context, employeeID uuid.UUID) ([]*Account, error) {
	var out []*Account
	for _, a := range r.items {
		if a.EmployeeID == employeeID {
			out = append(out, a)
		}
	}
	return out, nil
}

type memLicenseRepo struct {
	items    map[uuid.UUID]*License
	accounts *memAccountRepo
}

func newMemLicenseRepo(accounts *memAccountRepo) *memLicenseRepo {
	return &memLicenseRepo{items: map[uuid.UUID]*License{}, accounts: accounts}
}

func (r *memLicenseRepo) Create(_ context.Context, l *License) error {
	l.ID = uuid.New()
	cp := *l
	r.items[l.ID] = &cp
	return nil
}

func (r *memLicenseRepo) GetByID(_ context.Context, id uuid.UUID) (*License, error) {
	l, ok := r.items[id]
	if !ok || l.DeletedAt != nil {
		return nil, pgx.ErrNoRows
	}
	cp := *l
	return &cp, nil
}

func (r *memLicenseRepo) Update(_ context.Context, l *License) error {
	cp := *l
	r.items[l.ID] = &cp
	return nil
}

func (r *memLicenseRepo) SoftDelete(_ context.Context, id uuid.UUID) error {
	if l, ok := r.items[id]; ok && l.DeletedAt == nil {
		now := time.Now()
		l.DeletedAt = &now
	}
	return nil
}

func (r *memLicenseRepo) ListByEmployee(_ context.Context, employeeID uuid.UUID) ([]*License, error) {
	var out []*License
	for _, l := range r.items {
		if l.EmployeeID == employeeID && l.DeletedAt == nil {
			out = append(out, l)
		}
	}
	return out, nil
}

func (r *memLicenseRepo) ListDue(_ context.Context, cutoff time.Time) ([]*License, error) {
	var out []*License
	for _, l := range r.items {
		if l.Status == LicenseActive && !l.ExpirationDate.After(cutoff) && l.DeletedAt == nil {
			cp := *l
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memLicenseRepo) OrgHasActivePractitioner(_ context.Context, orgID uuid.UUID, now time.Time) (bool, error) {
	for _, a := range r.accounts.items {
		if a.OrganizationID != orgID || a.Role != auth.RolePractitioner {
			continue
		}
		for _, l := range r.items {
			if l.EmployeeID == a.EmployeeID && l.Usable(now) {
				return true, nil
			}
		}
	}
	return false, nil
}

type recordingNotifier struct {
	expired []uuid.UUID
}

func (n *recordingNotifier) LicenseExpired(_ context.Context, l *License) error {
	n.expired = append(n.expired, l.ID)
	return nil
}

type fixture struct {
	svc      *Service
	logs     *audit.MemoryLogWriter
	accounts *memAccountRepo
	licenses *memLicenseRepo
	notifier *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	employees := newMemEmployeeRepo()
	accounts := newMemAccountRepo()
	licenses := newMemLicenseRepo(accounts)
	mut, logs := audit.NewMemoryInterceptor()
	notifier := &recordingNotifier{}
	svc := NewService(employees, accounts, licenses, mut, notifier)
	return &fixture{svc: svc, logs: logs, accounts: accounts, licenses: licenses, notifier: notifier}
}

func testActor() auth.Actor {
	return auth.Actor{EmployeeID: uuid.New(), OrganizationID: uuid.New(), Role: auth.RoleAdmin}
}

func seedPractitioner(t *testing.T, f *fixture, orgID uuid.UUID, expires time.Time, status string) (*Account, *License) {
	t.Helper()
	employeeID := uuid.New()
	acct := &Account{EmployeeID: employeeID, OrganizationID: orgID, Role: auth.RolePractitioner}
	if err := f.accounts.Create(context.Background(), acct); err != nil {
		t.Fatal(err)
	}
	lic := &License{
		EmployeeID:     employeeID,
		Number:         "LIC-" + uuid.NewString()[:8],
		State:          "CA",
		EffectiveDate:  expires.AddDate(-2, 0, 0),
		ExpirationDate: expires,
		Status:         status,
	}
	if err := f.licenses.Create(context.Background(), lic); err != nil {
		t.Fatal(err)
	}
	return acct, lic
}

func TestCreateLicenseStartsPendingApproval(t *testing.T) {
	f := newFixture(t)
	l := &License{
		EmployeeID:     uuid.New(),
		Number:         "A12345",
		State:          "NY",
		EffectiveDate:  time.Now(),
		ExpirationDate: time.Now().AddDate(2, 0, 0),
		Status:         LicenseActive, // caller-supplied status must be ignored
	}
	if err := f.svc.CreateLicense(context.Background(), testActor(), l); err != nil {
		t.Fatalf("CreateLicense: %v", err)
	}
	if l.Status != LicensePendingApproval {
		t.Fatalf("status = %s, want %s", l.Status, LicensePendingApproval)
	}
	logs := f.logs.Logs()
	if len(logs) != 1 || logs[0].Op != audit.OpCreate || logs[0].Entity != "License" {
		t.Fatalf("unexpected audit trail: %+v", logs)
	}
}

func TestApproveLicenseOnlyFromPending(t *testing.T) {
	f := newFixture(t)
	actor := testActor()
	l := &License{
		EmployeeID:     uuid.New(),
		Number:         "B999",
		State:          "WA",
		EffectiveDate:  time.Now(),
		ExpirationDate: time.Now().AddDate(1, 0, 0),
	}
	if err := f.svc.CreateLicense(context.Background(), actor, l); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.ApproveLicense(context.Background(), actor, l.ID); err != nil {
		t.Fatalf("ApproveLicense: %v", err)
	}
	got, _ := f.licenses.GetByID(context.Background(), l.ID)
	if got.Status != LicenseActive {
		t.Fatalf("status = %s, want ACTIVE", got.Status)
	}

	// Approving again is a conflict: the license already left PENDING_APPROVAL.
	err := f.svc.ApproveLicense(context.Background(), actor, l.ID)
	if !errs.IsKind(err, errs.KindConflict) {
		t.Fatalf("second approve: got %v, want CONFLICT", err)
	}
}

func TestRejectLicense(t *testing.T) {
	f := newFixture(t)
	actor := testActor()
	l := &License{
		EmployeeID:     uuid.New(),
		Number:         "C1",
		State:          "TX",
		EffectiveDate:  time.Now(),
		ExpirationDate: time.Now().AddDate(1, 0, 0),
	}
	if err := f.svc.CreateLicense(context.Background(), actor, l); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.RejectLicense(context.Background(), actor, l.ID); err != nil {
		t.Fatalf("RejectLicense: %v", err)
	}
	got, _ := f.licenses.GetByID(context.Background(), l.ID)
	if got.Status != LicenseRejected {
		t.Fatalf("status = %s, want REJECTED", got.Status)
	}
}

func TestIsLocked(t *testing.T) {
	orgID := uuid.New()
	future := time.Now().AddDate(1, 0, 0)
	past := time.Now().AddDate(-1, 0, 0)

	t.Run("no practitioner accounts", func(t *testing.T) {
		f := newFixture(t)
		locked, err := f.svc.IsLocked(context.Background(), orgID)
		if err != nil {
			t.Fatal(err)
		}
		if !locked {
			t.Fatal("org with no practitioners should be locked")
		}
	})

	t.Run("active future license unlocks", func(t *testing.T) {
		f := newFixture(t)
		seedPractitioner(t, f, orgID, future, LicenseActive)
		locked, err := f.svc.IsLocked(context.Background(), orgID)
		if err != nil {
			t.Fatal(err)
		}
		if locked {
			t.Fatal("org with usable practitioner license should not be locked")
		}
	})

	t.Run("pending license does not unlock", func(t *testing.T) {
		f := newFixture(t)
		seedPractitioner(t, f, orgID, future, LicensePendingApproval)
		locked, _ := f.svc.IsLocked(context.Background(), orgID)
		if !locked {
			t.Fatal("pending license must not unlock the org")
		}
	})

	t.Run("expired date locks even when status still ACTIVE", func(t *testing.T) {
		f := newFixture(t)
		seedPractitioner(t, f, orgID, past, LicenseActive)
		locked, _ := f.svc.IsLocked(context.Background(), orgID)
		if !locked {
			t.Fatal("license past expiration must not unlock the org")
		}
	})

	t.Run("deleted license locks", func(t *testing.T) {
		f := newFixture(t)
		_, lic := seedPractitioner(t, f, orgID, future, LicenseActive)
		if err := f.licenses.SoftDelete(context.Background(), lic.ID); err != nil {
			t.Fatal(err)
		}
		locked, _ := f.svc.IsLocked(context.Background(), orgID)
		if !locked {
			t.Fatal("soft-deleted license must not unlock the org")
		}
	})

	t.Run("non-practitioner role locks", func(t *testing.T) {
		f := newFixture(t)
		acct, _ := seedPractitioner(t, f, orgID, future, LicenseActive)
		acct.Role = auth.RoleStaff
		if err := f.accounts.Update(context.Background(), acct); err != nil {
			t.Fatal(err)
		}
		locked, _ := f.svc.IsLocked(context.Background(), orgID)
		if !locked {
			t.Fatal("license held by non-practitioner must not unlock the org")
		}
	})
}

func TestExpireDueLicenses(t *testing.T) {
	f := newFixture(t)
	orgID := uuid.New()
	_, due := seedPractitioner(t, f, orgID, time.Now().Add(-time.Hour), LicenseActive)
	_, fresh := seedPractitioner(t, f, orgID, time.Now().AddDate(1, 0, 0), LicenseActive)

	n, err := f.svc.ExpireDueLicenses(context.Background())
	if err != nil {
		t.Fatalf("ExpireDueLicenses: %v", err)
	}
	if n != 1 {
		t.Fatalf("expired %d licenses, want 1", n)
	}

	got, _ := f.licenses.GetByID(context.Background(), due.ID)
	if got.Status != LicenseExpired {
		t.Fatalf("due license status = %s, want EXPIRED", got.Status)
	}
	got, _ = f.licenses.GetByID(context.Background(), fresh.ID)
	if got.Status != LicenseActive {
		t.Fatalf("fresh license status = %s, want ACTIVE", got.Status)
	}

	logs := f.logs.Logs()
	if len(logs) != 1 {
		t.Fatalf("audit records = %d, want 1", len(logs))
	}
	if logs[0].CreditedTo == nil || *logs[0].CreditedTo != "license-sweep" {
		t.Fatalf("audit credited to %v, want license-sweep", logs[0].CreditedTo)
	}
	if logs[0].ActorID != nil {
		t.Fatal("sweep record must not carry an employee actor")
	}

	if len(f.notifier.expired) != 1 || f.notifier.expired[0] != due.ID {
		t.Fatalf("notifier calls = %v", f.notifier.expired)
	}
}

func TestExpirySweepLocksOrg(t *testing.T) {
	f := newFixture(t)
	orgID := uuid.New()
	seedPractitioner(t, f, orgID, time.Now().Add(time.Minute), LicenseActive)

	locked, _ := f.svc.IsLocked(context.Background(), orgID)
	if locked {
		t.Fatal("org should start unlocked")
	}

	f.svc.now = func() time.Time { return time.Now().Add(time.Hour) }
	if _, err := f.svc.ExpireDueLicenses(context.Background()); err != nil {
		t.Fatal(err)
	}
	locked, _ = f.svc.IsLocked(context.Background(), orgID)
	if !locked {
		t.Fatal("org should be locked after its only license expired")
	}
}

func TestSupersedeLicense(t *testing.T) {
	f := newFixture(t)
	actor := testActor()
	old := &License{
		EmployeeID:     uuid.New(),
		Number:         "OLD-1",
		State:          "OR",
		EffectiveDate:  time.Now().AddDate(-2, 0, 0),
		ExpirationDate: time.Now().AddDate(0, 1, 0),
	}
	if err := f.svc.CreateLicense(context.Background(), actor, old); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.ApproveLicense(context.Background(), actor, old.ID); err != nil {
		t.Fatal(err)
	}

	replacement := &License{
		Number:         "NEW-1",
		State:          "OR",
		EffectiveDate:  time.Now(),
		ExpirationDate: time.Now().AddDate(2, 0, 0),
	}
	if err := f.svc.SupersedeLicense(context.Background(), actor, old.ID, replacement); err != nil {
		t.Fatalf("SupersedeLicense: %v", err)
	}

	if _, err := f.licenses.GetByID(context.Background(), old.ID); err == nil {
		t.Fatal("old license should be soft-deleted")
	}
	got, err := f.licenses.GetByID(context.Background(), replacement.ID)
	if err != nil {
		t.Fatalf("replacement not found: %v", err)
	}
	if got.Status != LicensePendingApproval {
		t.Fatalf("replacement status = %s, want PENDING_APPROVAL", got.Status)
	}
	if got.EmployeeID != old.EmployeeID {
		t.Fatal("replacement must keep the holder")
	}

	// create + approve + delete + create
	if n := len(f.logs.Logs()); n != 4 {
		t.Fatalf("audit records = %d, want 4", n)
	}
}

func TestSupersedeMissingLicenseIsNotFound(t *testing.T) {
	f := newFixture(t)
	err := f.svc.SupersedeLicense(context.Background(), testActor(), uuid.New(), &License{
		Number:         "X",
		EffectiveDate:  time.Now(),
		ExpirationDate: time.Now().AddDate(1, 0, 0),
	})
	if !errs.IsKind(err, errs.KindNotFound) {
		t.Fatalf("got %v, want NOT_FOUND", err)
	}
}

func TestCreateAccountRejectsUnknownRole(t *testing.T) {
	f := newFixture(t)
	err := f.svc.CreateAccount(context.Background(), testActor(), &Account{
		EmployeeID:     uuid.New(),
		OrganizationID: uuid.New(),
		Role:           "WIZARD",
	})
	if !errs.IsKind(err, errs.KindValidation) {
		t.Fatalf("got %v, want VALIDATION", err)
	}
}
