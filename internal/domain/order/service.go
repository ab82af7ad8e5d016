package order

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/resonantbio/portal/internal/domain/identity"
	"github.com/resonantbio/portal/internal/domain/patient"
	"github.com/resonantbio/portal/internal/platform/audit"
	"github.com/resonantbio/portal/internal/platform/auth"
	"github.com/resonantbio/portal/internal/platform/db"
	"github.com/resonantbio/portal/internal/platform/labbridge"
	"github.com/resonantbio/portal/pkg/errs"
)

// Gate blocks workflow transitions for organizations without a credentialed
// practitioner.
type Gate interface {
	IsLocked(ctx context.Context, orgID uuid.UUID) (bool, error)
}

// PatientDirectory resolves patients for assignment checks.
type PatientDirectory interface {
	GetByID(ctx context.Context, id uuid.UUID) (*patient.Patient, error)
}

// AccountDirectory resolves org memberships for practitioner assignment.
type AccountDirectory interface {
	Get(ctx context.Context, employeeID, orgID uuid.UUID) (*identity.Account, error)
}

// Notifier receives workflow events. Failures are logged, never propagated.
type Notifier interface {
	OrderFinalized(ctx context.Context, o *Order) error
	ResultsReady(ctx context.Context, o *Order) error
}

type Service struct {
	serviceTypes ServiceTypeRepository
	orders       OrderRepository
	requests     ServiceRequestRepository
	specimens    SpecimenRepository
	adjustments  AdjustmentRepository
	patients     PatientDirectory
	accounts     AccountDirectory
	gate         Gate
	mut          *audit.Interceptor
	notifier     Notifier
	now          func() time.Time
}

func NewService(
	serviceTypes ServiceTypeRepository,
	orders OrderRepository,
	requests ServiceRequestRepository,
	specimens SpecimenRepository,
	adjustments AdjustmentRepository,
	patients PatientDirectory,
	accounts AccountDirectory,
	gate Gate,
	mut *audit.Interceptor,
	notifier Notifier,
) *Service {
	return &Service{
		serviceTypes: serviceTypes,
		orders:       orders,
		requests:     requests,
		specimens:    specimens,
		adjustments:  adjustments,
		patients:     patients,
		accounts:     accounts,
		gate:         gate,
		mut:          mut,
		notifier:     notifier,
		now:          time.Now,
	}
}

var orderSeq uint32

// newOrderID builds the human-readable order id: RSN-<base36 timestamp>-<seq>.
func newOrderID(now time.Time) string {
	ts := strings.ToUpper(strconv.FormatInt(now.UTC().UnixMilli(), 36))
	seq := atomic.AddUint32(&orderSeq, 1) % 1000
	return fmt.Sprintf("RSN-%s-%03d", ts, seq)
}

// =========== Intake ===========

// CreateOrder opens a DRAFT order with one service request per service type.
func (s *Service) CreateOrder(ctx context.Context, actor auth.Actor, orgID uuid.UUID, serviceTypeIDs []uuid.UUID) (*Order, error) {
	if orgID == uuid.Nil {
		return nil, errs.Validation("organization_id is required")
	}
	if len(serviceTypeIDs) == 0 {
		return nil, errs.Validation("at least one service type is required")
	}
	types := make([]*ServiceType, 0, len(serviceTypeIDs))
	for _, id := range serviceTypeIDs {
		st, err := s.serviceTypes.GetByID(ctx, id)
		if err != nil {
			if db.IsNoRows(err) {
				return nil, errs.NotFound("service type %s not found", id)
			}
			return nil, err
		}
		types = append(types, st)
	}

	o := &Order{
		OrganizationID: orgID,
		OrderID:        newOrderID(s.now()),
		Status:         StatusDraft,
		ReqFormStatus:  ReqFormNone,
	}
	err := s.mut.InTx(ctx, func(txCtx context.Context) error {
		err := s.mut.Mutate(txCtx, audit.Mutation{
			Op:       audit.OpCreate,
			Entity:   "Order",
			Identity: audit.Employee(actor.EmployeeID),
			Apply: func(c context.Context) (interface{}, error) {
				if err := s.orders.Create(c, o); err != nil {
					return nil, err
				}
				return o, nil
			},
		})
		if err != nil {
			return err
		}
		for _, st := range types {
			sr := &ServiceRequest{OrderID: o.ID, ServiceTypeID: st.ID}
			err := s.mut.Mutate(txCtx, audit.Mutation{
				Op:       audit.OpCreate,
				Entity:   "ServiceRequest",
				Identity: audit.Employee(actor.EmployeeID),
				Apply: func(c context.Context) (interface{}, error) {
					if err := s.requests.Create(c, sr); err != nil {
						return nil, err
					}
					return sr, nil
				},
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return o, nil
}

// =========== Assignment transitions ===========

// loadOpenRequest resolves a service request and its order, requiring the
// order to still be a mutable DRAFT.
func (s *Service) loadOpenRequest(ctx context.Context, srID uuid.UUID) (*ServiceRequest, *Order, error) {
	sr, err := s.requests.GetByID(ctx, srID)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, nil, errs.NotFound("service request %s not found", srID)
		}
		return nil, nil, err
	}
	o, err := s.orders.GetByID(ctx, sr.OrderID)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, nil, errs.NotFound("order %s not found", sr.OrderID)
		}
		return nil, nil, err
	}
	if o.Status != StatusDraft {
		return nil, nil, errs.Conflict("order %s is %s, not open for changes", o.OrderID, o.Status)
	}
	return sr, o, nil
}

func (s *Service) checkGate(ctx context.Context, orgID uuid.UUID) error {
	locked, err := s.gate.IsLocked(ctx, orgID)
	if err != nil {
		return err
	}
	if locked {
		return errs.Forbidden("organization %s has no credentialed practitioner", orgID)
	}
	return nil
}

// AssignKit binds a kit to a service request. Reassignment is last-write-wins:
// the prior specimen is soft-deleted and a fresh one created in the same
// transaction. The partial unique index on kit_id is the authoritative guard;
// the lookup here only gives a friendlier early error.
func (s *Service) AssignKit(ctx context.Context, actor auth.Actor, srID uuid.UUID, kitID string) (*Specimen, error) {
	kitID = strings.TrimSpace(kitID)
	if kitID == "" {
		return nil, errs.Validation("kit_id is required")
	}
	sr, o, err := s.loadOpenRequest(ctx, srID)
	if err != nil {
		return nil, err
	}
	if err := s.checkGate(ctx, o.OrganizationID); err != nil {
		return nil, err
	}

	holder, err := s.specimens.GetByKitID(ctx, kitID)
	switch {
	case err == nil:
		if holder.ServiceRequestID != sr.ID {
			return nil, errs.Conflict("kit %s is already assigned", kitID)
		}
	case db.IsNoRows(err):
	default:
		return nil, err
	}

	spec := &Specimen{ServiceRequestID: sr.ID, KitID: kitID, Status: SpecimenPending}
	err = s.mut.InTx(ctx, func(txCtx context.Context) error {
		prior, err := s.specimens.GetByServiceRequest(txCtx, sr.ID)
		switch {
		case err == nil:
			del := audit.Mutation{
				Op:       audit.OpDelete,
				Entity:   "Specimen",
				EntityID: prior.ID,
				Identity: audit.Employee(actor.EmployeeID),
				Load: func(c context.Context) (interface{}, error) {
					return s.specimens.GetByID(c, prior.ID)
				},
				Apply: func(c context.Context) (interface{}, error) {
					return nil, s.specimens.SoftDelete(c, prior.ID)
				},
			}
			if err := s.mut.Mutate(txCtx, del); err != nil {
				return err
			}
		case db.IsNoRows(err):
		default:
			return err
		}

		return s.mut.Mutate(txCtx, audit.Mutation{
			Op:       audit.OpCreate,
			Entity:   "Specimen",
			Identity: audit.Employee(actor.EmployeeID),
			Apply: func(c context.Context) (interface{}, error) {
				if err := s.specimens.Create(c, spec); err != nil {
					if db.IsUniqueViolation(err, "specimens_kit_id_key") {
						return nil, errs.Conflict("kit %s is already assigned", kitID)
					}
					return nil, err
				}
				return spec, nil
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return spec, nil
}

// AssignPatient binds a patient to a service request. The patient must exist
// and belong to the order's organization.
func (s *Service) AssignPatient(ctx context.Context, actor auth.Actor, srID, patientID uuid.UUID) error {
	sr, o, err := s.loadOpenRequest(ctx, srID)
	if err != nil {
		return err
	}
	if err := s.checkGate(ctx, o.OrganizationID); err != nil {
		return err
	}

	p, err := s.patients.GetByID(ctx, patientID)
	if err != nil {
		if db.IsNoRows(err) {
			return errs.NotFound("patient %s not found", patientID)
		}
		return err
	}
	if p.OrganizationID != o.OrganizationID {
		return errs.NotFound("patient %s not found", patientID)
	}

	sr.PatientID = &patientID
	return s.updateRequest(ctx, actor, sr)
}

// AssignPractitioner binds an ordering practitioner. The practitioner must
// hold a PRACTITIONER account in the order's organization.
func (s *Service) AssignPractitioner(ctx context.Context, actor auth.Actor, srID, practitionerID uuid.UUID) error {
	sr, o, err := s.loadOpenRequest(ctx, srID)
	if err != nil {
		return err
	}
	if err := s.checkGate(ctx, o.OrganizationID); err != nil {
		return err
	}

	acct, err := s.accounts.Get(ctx, practitionerID, o.OrganizationID)
	if err != nil {
		if db.IsNoRows(err) {
			return errs.NotFound("practitioner %s not found in organization", practitionerID)
		}
		return err
	}
	if acct.Role != auth.RolePractitioner {
		return errs.NotFound("practitioner %s not found in organization", practitionerID)
	}

	sr.PractitionerID = &practitionerID
	return s.updateRequest(ctx, actor, sr)
}

func (s *Service) updateRequest(ctx context.Context, actor auth.Actor, sr *ServiceRequest) error {
	return s.mut.Mutate(ctx, audit.Mutation{
		Op:       audit.OpUpdate,
		Entity:   "ServiceRequest",
		EntityID: sr.ID,
		Identity: audit.Employee(actor.EmployeeID),
		Load: func(txCtx context.Context) (interface{}, error) {
			return s.requests.GetByID(txCtx, sr.ID)
		},
		Apply: func(txCtx context.Context) (interface{}, error) {
			if err := s.requests.Update(txCtx, sr); err != nil {
				return nil, err
			}
			return s.requests.GetByID(txCtx, sr.ID)
		},
	})
}

// UploadRequisition attaches a requisition form blob key to a draft order.
func (s *Service) UploadRequisition(ctx context.Context, actor auth.Actor, orderID uuid.UUID, blobKey string) error {
	if strings.TrimSpace(blobKey) == "" {
		return errs.Validation("blob key is required")
	}
	o, err := s.getDraft(ctx, orderID)
	if err != nil {
		return err
	}
	o.ReqFormKey = blobKey
	o.ReqFormStatus = ReqFormUploaded
	return s.updateOrder(ctx, audit.Employee(actor.EmployeeID), o)
}

// AddAdjustment records a signed price adjustment on a draft order. Only
// billing managers and admins may reprice.
func (s *Service) AddAdjustment(ctx context.Context, actor auth.Actor, orderID uuid.UUID, adjType string, amount int64) (*PriceAdjustment, error) {
	if actor.Role != auth.RoleAdmin && actor.Role != auth.RoleBillingManager {
		return nil, errs.Forbidden("role %s may not adjust pricing", actor.Role)
	}
	if !validAdjustmentTypes[adjType] {
		return nil, errs.Validation("invalid adjustment type: %s", adjType)
	}
	if amount == 0 {
		return nil, errs.Validation("amount must be non-zero")
	}
	o, err := s.getDraft(ctx, orderID)
	if err != nil {
		return nil, err
	}

	a := &PriceAdjustment{OrderID: o.ID, AdjustmentType: adjType, Amount: amount}
	err = s.mut.Mutate(ctx, audit.Mutation{
		Op:       audit.OpCreate,
		Entity:   "PriceAdjustment",
		Identity: audit.Employee(actor.EmployeeID),
		Apply: func(txCtx context.Context) (interface{}, error) {
			if err := s.adjustments.Create(txCtx, a); err != nil {
				return nil, err
			}
			return a, nil
		},
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// =========== Finalize / Cancel ===========

// Finalize prices the order and locks it for lab submission. Order status,
// requisition status, price and every specimen flip in one transaction;
// a failure anywhere rolls the whole unit back.
func (s *Service) Finalize(ctx context.Context, actor auth.Actor, srID uuid.UUID) (*Order, error) {
	sr, o, err := s.loadOpenRequest(ctx, srID)
	if err != nil {
		return nil, err
	}
	if err := s.checkGate(ctx, o.OrganizationID); err != nil {
		return nil, err
	}
	if sr.PatientID == nil {
		return nil, errs.Conflict("order %s has no patient assigned", o.OrderID)
	}
	if sr.PractitionerID == nil {
		return nil, errs.Conflict("order %s has no practitioner assigned", o.OrderID)
	}
	if _, err := s.specimens.GetByServiceRequest(ctx, sr.ID); err != nil {
		if db.IsNoRows(err) {
			return nil, errs.Conflict("order %s has no kit assigned", o.OrderID)
		}
		return nil, err
	}

	st, err := s.serviceTypes.GetByID(ctx, sr.ServiceTypeID)
	if err != nil {
		return nil, err
	}
	adjustments, err := s.adjustments.ListByOrder(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	quote, err := ComputeQuote(st, adjustments)
	if err != nil {
		return nil, err
	}

	err = s.mut.InTx(ctx, func(txCtx context.Context) error {
		o.Status = StatusAssigned
		o.ReqFormStatus = ReqFormPendingApproval
		o.Price = quote.Subtotal
		o.Total = quote.Total
		if err := s.updateOrder(txCtx, audit.Employee(actor.EmployeeID), o); err != nil {
			return err
		}

		specs, err := s.specimens.ListByOrder(txCtx, o.ID)
		if err != nil {
			return err
		}
		for _, spec := range specs {
			spec := spec
			err := s.mut.Mutate(txCtx, audit.Mutation{
				Op:       audit.OpUpdate,
				Entity:   "Specimen",
				EntityID: spec.ID,
				Identity: audit.Employee(actor.EmployeeID),
				Load: func(c context.Context) (interface{}, error) {
					return s.specimens.GetByID(c, spec.ID)
				},
				Apply: func(c context.Context) (interface{}, error) {
					spec.Status = SpecimenAssigned
					if err := s.specimens.Update(c, spec); err != nil {
						return nil, err
					}
					return spec, nil
				},
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.notifier != nil {
		if err := s.notifier.OrderFinalized(ctx, o); err != nil {
			log.Warn().Err(err).Str("order_id", o.OrderID).Msg("order finalized notification failed")
		}
	}
	return o, nil
}

// Cancel voids an order. Orders already handed to the lab cannot be canceled.
func (s *Service) Cancel(ctx context.Context, actor auth.Actor, orderID uuid.UUID) error {
	o, err := s.getOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if o.SubmittedToLab {
		return errs.Conflict("order %s was already submitted to the lab", o.OrderID)
	}
	if o.Status == StatusCanceled {
		return errs.Conflict("order %s is already canceled", o.OrderID)
	}
	o.Status = StatusCanceled
	return s.updateOrder(ctx, audit.Employee(actor.EmployeeID), o)
}

// =========== Lab bridge ===========

// SubmitToLab accepts a batch of lab acknowledgements. Items fail
// independently; the batch never aborts early.
func (s *Service) SubmitToLab(ctx context.Context, batch []labbridge.Submission) labbridge.BatchResult {
	var res labbridge.BatchResult
	for _, sub := range batch {
		if err := s.submitOne(ctx, sub); err != nil {
			res.Fail(sub.OrderID, err)
			continue
		}
		res.Succeeded++
	}
	return res
}

func (s *Service) submitOne(ctx context.Context, sub labbridge.Submission) error {
	if sub.OrderID == "" || sub.LabOrderID == "" {
		return errs.Validation("order_id and lab_order_id are required")
	}
	o, err := s.orders.GetByOrderID(ctx, sub.OrderID)
	if err != nil {
		if db.IsNoRows(err) {
			return errs.NotFound("order %s not found", sub.OrderID)
		}
		return err
	}
	if o.SubmittedToLab {
		return errs.Conflict("order %s already submitted", o.OrderID)
	}
	if o.Status != StatusAssigned {
		return errs.Conflict("order %s is %s, not finalized", o.OrderID, o.Status)
	}
	o.SubmittedToLab = true
	o.LabOrderID = sub.LabOrderID
	o.Status = StatusSubmittedToLab
	return s.updateOrder(ctx, audit.System("lab-bridge"), o)
}

// RecordLabResults ingests a batch of specimen results. When the last
// specimen of an order completes, the order moves to RESULT_RECEIVED and the
// organization is notified.
func (s *Service) RecordLabResults(ctx context.Context, batch []labbridge.Result) labbridge.BatchResult {
	var res labbridge.BatchResult
	for _, r := range batch {
		if err := s.recordOne(ctx, r); err != nil {
			res.Fail(r.KitID, err)
			continue
		}
		res.Succeeded++
	}
	return res
}

func (s *Service) recordOne(ctx context.Context, r labbridge.Result) error {
	if r.KitID == "" {
		return errs.Validation("kit_id is required")
	}
	spec, err := s.specimens.GetByKitID(ctx, r.KitID)
	if err != nil {
		if db.IsNoRows(err) {
			return errs.NotFound("kit %s not found", r.KitID)
		}
		return err
	}
	if spec.Status == SpecimenCompleted {
		return errs.Conflict("kit %s already completed", r.KitID)
	}

	sr, err := s.requests.GetByID(ctx, spec.ServiceRequestID)
	if err != nil {
		return err
	}
	o, err := s.orders.GetByID(ctx, sr.OrderID)
	if err != nil {
		return err
	}
	if o.Status != StatusSubmittedToLab {
		return errs.Conflict("order %s is %s, not awaiting results", o.OrderID, o.Status)
	}

	completedAt := r.CompletedAt
	if completedAt.IsZero() {
		completedAt = s.now()
	}

	allDone := false
	err = s.mut.InTx(ctx, func(txCtx context.Context) error {
		err := s.mut.Mutate(txCtx, audit.Mutation{
			Op:       audit.OpUpdate,
			Entity:   "Specimen",
			EntityID: spec.ID,
			Identity: audit.System("lab-bridge"),
			Load: func(c context.Context) (interface{}, error) {
				return s.specimens.GetByID(c, spec.ID)
			},
			Apply: func(c context.Context) (interface{}, error) {
				spec.Status = SpecimenCompleted
				spec.ResultKey = r.ResultKey
				spec.CompletedAt = &completedAt
				if err := s.specimens.Update(c, spec); err != nil {
					return nil, err
				}
				return spec, nil
			},
		})
		if err != nil {
			return err
		}

		specs, err := s.specimens.ListByOrder(txCtx, o.ID)
		if err != nil {
			return err
		}
		allDone = len(specs) > 0
		for _, sp := range specs {
			if sp.Status != SpecimenCompleted {
				allDone = false
				break
			}
		}
		if !allDone {
			return nil
		}
		o.Status = StatusResultReceived
		return s.updateOrder(txCtx, audit.System("lab-bridge"), o)
	})
	if err != nil {
		return err
	}

	if allDone && s.notifier != nil {
		if err := s.notifier.ResultsReady(ctx, o); err != nil {
			log.Warn().Err(err).Str("order_id", o.OrderID).Msg("results ready notification failed")
		}
	}
	return nil
}

// =========== Reads ===========

func (s *Service) getOrder(ctx context.Context, id uuid.UUID) (*Order, error) {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, errs.NotFound("order %s not found", id)
		}
		return nil, err
	}
	return o, nil
}

func (s *Service) getDraft(ctx context.Context, id uuid.UUID) (*Order, error) {
	o, err := s.getOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.Status != StatusDraft {
		return nil, errs.Conflict("order %s is %s, not open for changes", o.OrderID, o.Status)
	}
	return o, nil
}

func (s *Service) updateOrder(ctx context.Context, who audit.Identity, o *Order) error {
	return s.mut.Mutate(ctx, audit.Mutation{
		Op:       audit.OpUpdate,
		Entity:   "Order",
		EntityID: o.ID,
		Identity: who,
		Load: func(txCtx context.Context) (interface{}, error) {
			return s.orders.GetByID(txCtx, o.ID)
		},
		Apply: func(txCtx context.Context) (interface{}, error) {
			if err := s.orders.Update(txCtx, o); err != nil {
				return nil, err
			}
			return s.orders.GetByID(txCtx, o.ID)
		},
	})
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Order, error) {
	return s.getOrder(ctx, id)
}

func (s *Service) List(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]*Order, int, error) {
	return s.orders.ListByOrganization(ctx, orgID, limit, offset)
}

func (s *Service) ListServiceTypes(ctx context.Context) ([]*ServiceType, error) {
	return s.serviceTypes.List(ctx)
}

// RequestDetail is the service request read model with its derived workflow
// stage.
type RequestDetail struct {
	ServiceRequest *ServiceRequest `json:"service_request"`
	Specimen       *Specimen       `json:"specimen,omitempty"`
	Stage          string          `json:"stage"`
}

func (s *Service) GetRequest(ctx context.Context, srID uuid.UUID) (*RequestDetail, error) {
	sr, err := s.requests.GetByID(ctx, srID)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, errs.NotFound("service request %s not found", srID)
		}
		return nil, err
	}
	o, err := s.getOrder(ctx, sr.OrderID)
	if err != nil {
		return nil, err
	}
	var spec *Specimen
	sp, err := s.specimens.GetByServiceRequest(ctx, sr.ID)
	switch {
	case err == nil:
		spec = sp
	case db.IsNoRows(err):
	default:
		return nil, err
	}
	return &RequestDetail{
		ServiceRequest: sr,
		Specimen:       spec,
		Stage:          Stage(o, sr, spec != nil),
	}, nil
}

// QuoteOrder previews the current price of a draft order's service request.
func (s *Service) QuoteOrder(ctx context.Context, srID uuid.UUID) (Quote, error) {
	sr, err := s.requests.GetByID(ctx, srID)
	if err != nil {
		if db.IsNoRows(err) {
			return Quote{}, errs.NotFound("service request %s not found", srID)
		}
		return Quote{}, err
	}
	st, err := s.serviceTypes.GetByID(ctx, sr.ServiceTypeID)
	if err != nil {
		return Quote{}, err
	}
	adjustments, err := s.adjustments.ListByOrder(ctx, sr.OrderID)
	if err != nil {
		return Quote{}, err
	}
	return ComputeQuote(st, adjustments)
}
