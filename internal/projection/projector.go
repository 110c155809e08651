package projection

import (
	"context"

	"github.com/shopspring/decimal"

	interfaces "github.com/sheikh-saqib/card-ledger-engine/internal/interfaces"
	"github.com/sheikh-saqib/card-ledger-engine/internal/ledger"
)

type Projector struct {
	ledger     *ledger.Ledger
	store      interfaces.CardStore
	thresholds Thresholds
}

type Option func(*Projector)

// WithAlertThresholds overrides the notice, warning and critical usage
// percentages. Non-positive values keep the defaults; a set that is not
// ordered notice <= warning <= critical is ignored.
func WithAlertThresholds(notice, warning, critical int) Option {
	return func(p *Projector) {
		t := p.thresholds
		if notice > 0 {
			t.Notice = decimal.NewFromInt(int64(notice))
		}
		if warning > 0 {
			t.Warning = decimal.NewFromInt(int64(warning))
		}
		if critical > 0 {
			t.Critical = decimal.NewFromInt(int64(critical))
		}
		if t.Valid() {
			p.thresholds = t
		}
	}
}

func NewProjector(l *ledger.Ledger, opts ...Option) *Projector {
	p := &Projector{
		ledger:     l,
		store:      l.Store(),
		thresholds: DefaultThresholds(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Projector) Card(ctx context.Context, cardID, userID string) (CardView, error) {
	card, err := p.ledger.GetCard(ctx, cardID, userID)
	if err != nil {
		return CardView{}, err
	}
	return NewCardView(card, p.thresholds, p.ledger.Clock().Now()), nil
}

func (p *Projector) Bills(ctx context.Context, cardID, userID string) ([]BillView, error) {
	if _, err := p.ledger.GetCard(ctx, cardID, userID); err != nil {
		return nil, err
	}
	bills, err := p.store.ListBills(ctx, cardID)
	if err != nil {
		return nil, err
	}

	now := p.ledger.Clock().Now()
	views := make([]BillView, len(bills))
	for i, b := range bills {
		views[i] = NewBillView(b, now)
	}
	return views, nil
}

func (p *Projector) Plans(ctx context.Context, cardID, userID string) ([]PlanView, error) {
	if _, err := p.ledger.GetCard(ctx, cardID, userID); err != nil {
		return nil, err
	}
	plans, err := p.store.ListPlans(ctx, cardID)
	if err != nil {
		return nil, err
	}

	now := p.ledger.Clock().Now()
	views := make([]PlanView, 0, len(plans))
	for _, plan := range plans {
		items, err := p.store.ListItems(ctx, plan.ID)
		if err != nil {
			return nil, err
		}
		views = append(views, NewPlanView(plan, items, now))
	}
	return views, nil
}
