package grpc

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/dmitrijs2005/tontineledger/internal/common"
	"github.com/dmitrijs2005/tontineledger/internal/server/models"
	"github.com/dmitrijs2005/tontineledger/internal/server/services"
	"github.com/shopspring/decimal"
	"google.golang.org/protobuf/types/known/structpb"
)

func fieldError(name, problem string) error {
	return fmt.Errorf("%w: %s %s", common.ErrorIncorrectRequestField, name, problem)
}

func stringField(in *structpb.Struct, name string) (string, error) {
	v, ok := in.GetFields()[name]
	if !ok {
		return "", fieldError(name, "is required")
	}
	s, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok || s.StringValue == "" {
		return "", fieldError(name, "must be a non-empty string")
	}
	return s.StringValue, nil
}

func optionalString(in *structpb.Struct, name string) string {
	return in.GetFields()[name].GetStringValue()
}

// decimalField accepts money as a string ("100.50") or a JSON number. An
// absent optional field is zero.
func decimalField(in *structpb.Struct, name string, required bool) (decimal.Decimal, error) {
	v, ok := in.GetFields()[name]
	if !ok {
		if required {
			return decimal.Zero, fieldError(name, "is required")
		}
		return decimal.Zero, nil
	}
	switch k := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		d, err := decimal.NewFromString(k.StringValue)
		if err != nil {
			return decimal.Zero, fieldError(name, "is not a decimal")
		}
		return d, nil
	case *structpb.Value_NumberValue:
		if math.IsNaN(k.NumberValue) || math.IsInf(k.NumberValue, 0) {
			return decimal.Zero, fieldError(name, "is not a decimal")
		}
		return decimal.RequireFromString(strconv.FormatFloat(k.NumberValue, 'f', -1, 64)), nil
	}
	return decimal.Zero, fieldError(name, "must be a decimal")
}

func intField(in *structpb.Struct, name string) (int, error) {
	v, ok := in.GetFields()[name]
	if !ok {
		return 0, fieldError(name, "is required")
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok || n.NumberValue != math.Trunc(n.NumberValue) {
		return 0, fieldError(name, "must be an integer")
	}
	return int(n.NumberValue), nil
}

func boolField(in *structpb.Struct, name string) (bool, error) {
	v, ok := in.GetFields()[name]
	if !ok {
		return false, fieldError(name, "is required")
	}
	b, ok := v.GetKind().(*structpb.Value_BoolValue)
	if !ok {
		return false, fieldError(name, "must be a boolean")
	}
	return b.BoolValue, nil
}

func money(d decimal.Decimal) string { return d.StringFixed(2) }

func timestamp(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func groupMap(g *models.Group) map[string]any {
	return map[string]any{
		"id":                  g.ID,
		"name":                g.Name,
		"contribution_amount": money(g.ContributionAmount),
		"currency":            g.Currency,
		"frequency":           g.FrequencyType,
		"max_members":         g.MaxMembers,
		"status":              string(g.Status),
		"signature_hash":      g.SignatureHash,
		"created_by":          g.CreatedBy,
		"created_at":          timestamp(g.CreatedAt),
	}
}

func memberMap(m *models.Member) map[string]any {
	return map[string]any{
		"id":               m.ID,
		"group_id":         m.TontineID,
		"user_id":          m.UserID,
		"reputation_score": money(m.ReputationScore),
		"joined_at":        timestamp(m.JoinedAt),
	}
}

func cycleMap(c *models.Cycle) map[string]any {
	return map[string]any{
		"id":                     c.ID,
		"group_id":               c.TontineID,
		"cycle_number":           c.CycleNumber,
		"total_pool":             money(c.TotalPool),
		"commission_total":       money(c.CommissionTotal),
		"next_distribution_date": timestamp(c.NextDistributionDate),
		"status":                 string(c.Status),
	}
}

func requestMap(r *models.WithdrawRequest) map[string]any {
	return map[string]any{
		"id":           r.ID,
		"group_id":     r.TontineID,
		"requested_by": r.RequestedBy,
		"amount":       money(r.Amount),
		"status":       string(r.Status),
		"created_at":   timestamp(r.CreatedAt),
	}
}

func votesList(votes []*models.Vote) []any {
	out := make([]any, 0, len(votes))
	for _, v := range votes {
		out = append(out, map[string]any{
			"user_id":    v.UserID,
			"approved":   v.Approved,
			"created_at": timestamp(v.CreatedAt),
		})
	}
	return out
}

func membersList(members []*models.Member) []any {
	out := make([]any, 0, len(members))
	for _, m := range members {
		out = append(out, memberMap(m))
	}
	return out
}

func riskMap(a *services.RiskAssessment) map[string]any {
	signals := make([]any, 0, len(a.Signals))
	for _, s := range a.Signals {
		signals = append(signals, map[string]any{"hook": s.Hook, "score": s.Score, "reason": s.Reason})
	}
	return map[string]any{"group_id": a.GroupID, "score": a.Score, "frozen": a.Frozen, "signals": signals}
}

func reportMap(r *services.IntegrityReport) map[string]any {
	issues := make([]any, 0, len(r.Issues))
	for _, i := range r.Issues {
		issues = append(issues, map[string]any{"seq": i.Seq, "event_id": i.EventID, "issue": i.Issue})
	}
	return map[string]any{"valid": r.Valid, "checked": r.Checked, "issues": issues}
}
