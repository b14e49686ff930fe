package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"wallet-auth/internal/domain"
	"wallet-auth/internal/storage"
)

var (
	ErrUnknownActivity = errors.New("unknown activity")
	ErrInvalidQuantity = errors.New("invalid quantity")
	ErrNoActivities    = errors.New("at least one activity is required")
)

// DefaultEmissionFactors backs the calculator when no factor table is configured.
var DefaultEmissionFactors = []domain.EmissionFactor{
	{Activity: "electricity", Unit: "kWh", KgCO2ePer: 0.233, Description: "grid electricity"},
	{Activity: "natural_gas", Unit: "kWh", KgCO2ePer: 0.183, Description: "natural gas heating"},
	{Activity: "heating_oil", Unit: "litre", KgCO2ePer: 2.54},
	{Activity: "petrol", Unit: "litre", KgCO2ePer: 2.31},
	{Activity: "diesel", Unit: "litre", KgCO2ePer: 2.68},
	{Activity: "car", Unit: "km", KgCO2ePer: 0.171, Description: "average passenger car"},
	{Activity: "bus", Unit: "km", KgCO2ePer: 0.105},
	{Activity: "train", Unit: "km", KgCO2ePer: 0.041},
	{Activity: "flight_short_haul", Unit: "km", KgCO2ePer: 0.156},
	{Activity: "flight_long_haul", Unit: "km", KgCO2ePer: 0.150},
	{Activity: "waste_landfill", Unit: "kg", KgCO2ePer: 0.587},
	{Activity: "beef", Unit: "kg", KgCO2ePer: 27.0},
}

// EmissionService multiplies activity quantities by static per-unit factors.
type EmissionService interface {
	Factors() []domain.EmissionFactor
	Estimate(activities []domain.Activity) (*domain.EmissionEstimate, error)
}

type emissionService struct {
	factors map[string]domain.EmissionFactor
	sorted  []domain.EmissionFactor
}

func NewEmissionService(factors []domain.EmissionFactor) (EmissionService, error) {
	if len(factors) == 0 {
		factors = DefaultEmissionFactors
	}

	svc := &emissionService{factors: make(map[string]domain.EmissionFactor, len(factors))}
	for _, f := range factors {
		f.Activity = normalizeActivity(f.Activity)
		if f.Activity == "" {
			return nil, errors.New("emission factor without activity")
		}
		if f.KgCO2ePer < 0 || math.IsNaN(f.KgCO2ePer) || math.IsInf(f.KgCO2ePer, 0) {
			return nil, fmt.Errorf("emission factor %s: invalid value %v", f.Activity, f.KgCO2ePer)
		}
		if _, dup := svc.factors[f.Activity]; dup {
			return nil, fmt.Errorf("duplicate emission factor %s", f.Activity)
		}
		svc.factors[f.Activity] = f
		svc.sorted = append(svc.sorted, f)
	}
	sort.Slice(svc.sorted, func(i, j int) bool {
		return svc.sorted[i].Activity < svc.sorted[j].Activity
	})
	return svc, nil
}

func (s *emissionService) Factors() []domain.EmissionFactor {
	out := make([]domain.EmissionFactor, len(s.sorted))
	copy(out, s.sorted)
	return out
}

func (s *emissionService) Estimate(activities []domain.Activity) (*domain.EmissionEstimate, error) {
	if len(activities) == 0 {
		return nil, ErrNoActivities
	}

	estimate := &domain.EmissionEstimate{Lines: make([]domain.EmissionLine, 0, len(activities))}
	for _, a := range activities {
		name := normalizeActivity(a.Activity)
		factor, ok := s.factors[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownActivity, a.Activity)
		}
		if a.Quantity < 0 || math.IsNaN(a.Quantity) || math.IsInf(a.Quantity, 0) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidQuantity, name)
		}

		kg := a.Quantity * factor.KgCO2ePer
		if math.IsInf(kg, 0) || math.IsInf(estimate.TotalKgCO2e+kg, 0) {
			return nil, fmt.Errorf("%w: %s overflows", ErrInvalidQuantity, name)
		}
		estimate.Lines = append(estimate.Lines, domain.EmissionLine{
			Activity: name,
			Unit:     factor.Unit,
			Quantity: a.Quantity,
			Factor:   factor.KgCO2ePer,
			KgCO2e:   kg,
		})
		estimate.TotalKgCO2e += kg
	}
	return estimate, nil
}

// LoadFactors reads a JSON array of emission factors from object storage.
func LoadFactors(ctx context.Context, store storage.Service, bucket, key string) ([]domain.EmissionFactor, error) {
	if store == nil {
		return nil, errors.New("storage service not configured")
	}
	raw, err := store.Download(ctx, bucket, key)
	if err != nil {
		return nil, fmt.Errorf("download factor table: %w", err)
	}

	var factors []domain.EmissionFactor
	if err := json.Unmarshal(raw, &factors); err != nil {
		return nil, fmt.Errorf("decode factor table: %w", err)
	}
	if len(factors) == 0 {
		return nil, errors.New("factor table is empty")
	}
	return factors, nil
}

func normalizeActivity(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
