package application

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"windpark-cloud/internal/observability/metrics"
	settlement "windpark-cloud/internal/settlement/domain"
)

// SettlementService owns the settlement lifecycle: it orchestrates the
// distribution engine, persists results and enforces which transitions are
// legal. Operations on the same settlement id are serialized; a losing
// concurrent caller fails fast with ErrConcurrentModification.
type SettlementService struct {
	repo       settlement.Repository
	production ProductionReader
	parks      ParkReader
	bridge     InvoiceBridge
	publisher  EventPublisher
	clock      Clock
	logger     *log.Logger
	currency   string

	locks sync.Map
}

// NewSettlementService constructs the service.
func NewSettlementService(
	repo settlement.Repository,
	production ProductionReader,
	parks ParkReader,
	bridge InvoiceBridge,
	publisher EventPublisher,
	clock Clock,
	logger *log.Logger,
	currency string,
) (*SettlementService, error) {
	if repo == nil {
		return nil, errors.New("settlement service: nil repository")
	}
	if production == nil {
		return nil, errors.New("settlement service: nil production reader")
	}
	if parks == nil {
		return nil, errors.New("settlement service: nil park reader")
	}
	if clock == nil {
		clock = SystemClock{}
	}
	if currency == "" {
		currency = "EUR"
	}
	return &SettlementService{
		repo:       repo,
		production: production,
		parks:      parks,
		bridge:     bridge,
		publisher:  publisher,
		clock:      clock,
		logger:     logger,
		currency:   currency,
	}, nil
}

// CreateSettlementInput carries the attributes of a new draft settlement.
type CreateSettlementInput struct {
	ParkID               string
	Year                 int
	Month                *int
	NetRevenueCents      int64
	Mode                 string
	SmoothingFactor      *float64
	TolerancePct         *float64
	NetOperatorReference string
	Notes                string
}

// Create registers an empty draft settlement for a park/period.
func (s *SettlementService) Create(ctx context.Context, input CreateSettlementInput) (*settlement.Settlement, error) {
	mode, ok := settlement.ParseDistributionMode(input.Mode)
	if !ok {
		return nil, fmt.Errorf("%w: unknown mode %q", settlement.ErrInvalidParameter, input.Mode)
	}
	params := settlement.DistributionParams{
		SmoothingFactor: input.SmoothingFactor,
		TolerancePct:    input.TolerancePct,
	}
	agg, err := settlement.NewSettlement(input.ParkID, input.Year, input.Month, input.NetRevenueCents, mode, params, input.NetOperatorReference, input.Notes, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, agg); err != nil {
		return nil, err
	}
	return agg, nil
}

// Get loads a settlement with items.
func (s *SettlementService) Get(ctx context.Context, id string) (*settlement.Settlement, error) {
	agg, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if agg == nil {
		return nil, fmt.Errorf("%w: %s", settlement.ErrSettlementNotFound, id)
	}
	return agg, nil
}

// List returns all settlements of a park.
func (s *SettlementService) List(ctx context.Context, parkID string) ([]settlement.Settlement, error) {
	if parkID == "" {
		return nil, settlement.ErrEmptyParkID
	}
	return s.repo.ListByPark(ctx, parkID)
}

// CalculationOutput is the result of one calculation run.
type CalculationOutput struct {
	Settlement  *settlement.Settlement
	PricePerKwh float64
}

// Calculate pulls current production records, runs the distribution engine
// and replaces the items atomically. Legal in draft and calculated; a run
// with unchanged inputs yields an identical item set.
func (s *SettlementService) Calculate(ctx context.Context, id string) (CalculationOutput, error) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveSettlementCalculate(result, time.Since(start))
	}()

	unlock, err := s.lock(id)
	if err != nil {
		result = metrics.ResultError
		return CalculationOutput{}, err
	}
	defer unlock()

	agg, err := s.Get(ctx, id)
	if err != nil {
		result = metrics.ResultError
		return CalculationOutput{}, err
	}
	if err := agg.EnsureRecalculable(); err != nil {
		result = metrics.ResultError
		return CalculationOutput{}, err
	}

	records, err := s.production.ListParkPeriodProduction(ctx, agg.ParkID, agg.Year, agg.Month)
	if err != nil {
		result = metrics.ResultError
		return CalculationOutput{}, err
	}

	allocation, err := settlement.Allocate(records, agg.NetRevenueCents, agg.Mode, agg.Params())
	if err != nil {
		result = metrics.ResultError
		return CalculationOutput{}, err
	}
	if err := agg.ApplyCalculation(allocation, s.clock.Now()); err != nil {
		result = metrics.ResultError
		return CalculationOutput{}, err
	}
	if err := s.repo.Save(ctx, agg); err != nil {
		result = metrics.ResultError
		return CalculationOutput{}, err
	}

	if s.publisher != nil {
		err := s.publisher.Publish(ctx, SettlementCalculated{
			SettlementID:    agg.ID,
			ParkID:          agg.ParkID,
			Period:          agg.PeriodLabel(),
			Mode:            string(agg.Mode),
			NetRevenueCents: agg.NetRevenueCents,
			PricePerKwh:     allocation.PricePerKwh,
			ItemCount:       len(agg.Items),
			OccurredAt:      s.clock.Now(),
		})
		if err != nil && s.logger != nil {
			s.logger.Printf("settlement %s: publish calculated event: %v", agg.ID, err)
		}
	}

	return CalculationOutput{Settlement: agg, PricePerKwh: allocation.PricePerKwh}, nil
}

// CreatedInvoice pairs a settlement item with its new document reference.
type CreatedInvoice struct {
	ItemID     string
	InvoiceRef string
}

// InvoiceRunSummary counts the outcome of one invoice run.
type InvoiceRunSummary struct {
	Requested int
	Created   int
	Skipped   int
	Failed    int
}

// InvoiceRunOutput is the result of CreateInvoices.
type InvoiceRunOutput struct {
	Settlement *settlement.Settlement
	Invoices   []CreatedInvoice
	Summary    InvoiceRunSummary
}

// CreateInvoices delegates to the invoice bridge once per item that does not
// yet carry a reference. References of succeeded items are persisted even
// when other items fail; the settlement flips to invoiced only once every
// item has one. Idempotency keys are derived from the stable item ids, so a
// retry cannot produce duplicate invoices.
func (s *SettlementService) CreateInvoices(ctx context.Context, id string) (InvoiceRunOutput, error) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveInvoiceRun(result, time.Since(start))
	}()

	if s.bridge == nil {
		result = metrics.ResultError
		return InvoiceRunOutput{}, errors.New("settlement service: no invoice bridge configured")
	}

	unlock, err := s.lock(id)
	if err != nil {
		result = metrics.ResultError
		return InvoiceRunOutput{}, err
	}
	defer unlock()

	agg, err := s.Get(ctx, id)
	if err != nil {
		result = metrics.ResultError
		return InvoiceRunOutput{}, err
	}
	if agg.Status != settlement.StatusCalculated {
		result = metrics.ResultError
		return InvoiceRunOutput{}, fmt.Errorf("%w: cannot invoice in status %q", settlement.ErrIllegalState, agg.Status)
	}
	if len(agg.Items) == 0 {
		result = metrics.ResultError
		return InvoiceRunOutput{}, fmt.Errorf("%w: settlement has no items", settlement.ErrIllegalState)
	}

	parkName, err := s.parks.ParkName(ctx, agg.ParkID)
	if err != nil {
		result = metrics.ResultError
		return InvoiceRunOutput{}, err
	}

	output := InvoiceRunOutput{Settlement: agg}
	output.Summary.Requested = len(agg.Items)
	var failures []InvoiceFailure
	var succeeded []string

	for _, item := range agg.Items {
		if item.InvoiceRef != "" {
			output.Summary.Skipped++
			succeeded = append(succeeded, item.ID)
			continue
		}
		ref, err := s.bridge.CreateInvoice(ctx, InvoiceRequest{
			SettlementID:      agg.ID,
			ItemID:            item.ID,
			RecipientEntityID: item.RecipientEntityID,
			AmountCents:       item.RevenueShareCents,
			Currency:          s.currency,
			Description:       invoiceDescription(parkName, agg.PeriodLabel(), item.TurbineID),
			IdempotencyKey:    item.ID,
		})
		if err != nil {
			failures = append(failures, InvoiceFailure{ItemID: item.ID, Err: err})
			output.Summary.Failed++
			continue
		}
		if err := agg.SetInvoiceRef(item.ID, ref); err != nil {
			failures = append(failures, InvoiceFailure{ItemID: item.ID, Err: err})
			output.Summary.Failed++
			continue
		}
		succeeded = append(succeeded, item.ID)
		output.Invoices = append(output.Invoices, CreatedInvoice{ItemID: item.ID, InvoiceRef: ref})
		output.Summary.Created++
	}

	if len(failures) == 0 {
		if err := agg.MarkInvoiced(s.clock.Now()); err != nil {
			result = metrics.ResultError
			return InvoiceRunOutput{}, err
		}
	}

	// Persist whatever references exist; on partial failure the settlement
	// stays calculated and a retry covers only the failed subset.
	if err := s.repo.Save(ctx, agg); err != nil {
		result = metrics.ResultError
		return InvoiceRunOutput{}, err
	}

	if len(failures) > 0 {
		result = metrics.ResultError
		return output, &InvoicePartialFailureError{
			SettlementID: agg.ID,
			Succeeded:    succeeded,
			Failed:       failures,
		}
	}

	if s.publisher != nil {
		err := s.publisher.Publish(ctx, SettlementInvoiced{
			SettlementID: agg.ID,
			ParkID:       agg.ParkID,
			Period:       agg.PeriodLabel(),
			InvoiceCount: len(agg.Items),
			OccurredAt:   s.clock.Now(),
		})
		if err != nil && s.logger != nil {
			s.logger.Printf("settlement %s: publish invoiced event: %v", agg.ID, err)
		}
	}

	return output, nil
}

// Close moves an invoiced settlement to its terminal state.
func (s *SettlementService) Close(ctx context.Context, id string) (*settlement.Settlement, error) {
	unlock, err := s.lock(id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	agg, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := agg.Close(s.clock.Now()); err != nil {
		return nil, err
	}
	if err := s.repo.Save(ctx, agg); err != nil {
		return nil, err
	}

	if s.publisher != nil {
		err := s.publisher.Publish(ctx, SettlementClosed{
			SettlementID: agg.ID,
			ParkID:       agg.ParkID,
			Period:       agg.PeriodLabel(),
			OccurredAt:   s.clock.Now(),
		})
		if err != nil && s.logger != nil {
			s.logger.Printf("settlement %s: publish closed event: %v", agg.ID, err)
		}
	}
	return agg, nil
}

// Delete removes a draft or calculated settlement entirely.
func (s *SettlementService) Delete(ctx context.Context, id string) error {
	unlock, err := s.lock(id)
	if err != nil {
		return err
	}
	defer unlock()

	agg, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := agg.EnsureDeletable(); err != nil {
		return err
	}
	return s.repo.Delete(ctx, id)
}

func (s *SettlementService) lock(id string) (func(), error) {
	value, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	mu := value.(*sync.Mutex)
	if !mu.TryLock() {
		return nil, fmt.Errorf("%w: %s", settlement.ErrConcurrentModification, id)
	}
	return mu.Unlock, nil
}

func invoiceDescription(parkName, period, turbineID string) string {
	if turbineID == "" {
		return fmt.Sprintf("Revenue settlement %s %s", parkName, period)
	}
	return fmt.Sprintf("Revenue settlement %s %s, turbine %s", parkName, period, turbineID)
}
