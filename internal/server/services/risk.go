package services

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dmitrijs2005/tontineledger/internal/server/models"
	"github.com/shopspring/decimal"
)

// RiskSignal is the finding of one hook. A zero Score means nothing found.
type RiskSignal struct {
	Hook   string
	Score  int
	Reason string
}

type RequestWithVotes struct {
	Request *models.WithdrawRequest
	Votes   []*models.Vote
}

// RiskSnapshot is the read-only view of a group handed to every hook.
type RiskSnapshot struct {
	Group                   *models.Group
	Members                 []*models.Member
	Requests                []RequestWithVotes
	RejectedScheduleChanges int
	SignatureValid          bool
	Now                     time.Time
}

// RiskHook inspects a snapshot and scores one kind of risk.
type RiskHook interface {
	Name() string
	Evaluate(s RiskSnapshot) RiskSignal
}

// CollusionHook flags requesters whose withdrawals keep being approved
// unanimously within Window of being filed.
type CollusionHook struct {
	Window     time.Duration
	MinRepeats int
	Score      int
}

func (h CollusionHook) Name() string { return "collusion" }

func (h CollusionHook) Evaluate(s RiskSnapshot) RiskSignal {
	fast := map[string]int{}
	for _, r := range s.Requests {
		if r.Request.Status != models.WithdrawApproved && r.Request.Status != models.WithdrawExecuted {
			continue
		}
		if len(r.Votes) == 0 {
			continue
		}
		var last time.Time
		unanimous := true
		for _, v := range r.Votes {
			if !v.Approved {
				unanimous = false
				break
			}
			if v.CreatedAt.After(last) {
				last = v.CreatedAt
			}
		}
		if unanimous && last.Sub(r.Request.CreatedAt) <= h.Window {
			fast[r.Request.RequestedBy]++
		}
	}

	var flagged []string
	for user, n := range fast {
		if n >= h.MinRepeats {
			flagged = append(flagged, user)
		}
	}
	if len(flagged) == 0 {
		return RiskSignal{Hook: h.Name()}
	}
	sort.Strings(flagged)
	return RiskSignal{
		Hook:   h.Name(),
		Score:  h.Score,
		Reason: fmt.Sprintf("repeated fast unanimous approvals for %s", strings.Join(flagged, ", ")),
	}
}

// DefaultRiskHook scores the share of members whose reputation is below
// Threshold. MaxScore is reached when every member is below it.
type DefaultRiskHook struct {
	Threshold decimal.Decimal
	MaxScore  int
}

func (h DefaultRiskHook) Name() string { return "default_risk" }

func (h DefaultRiskHook) Evaluate(s RiskSnapshot) RiskSignal {
	if len(s.Members) == 0 {
		return RiskSignal{Hook: h.Name()}
	}
	low := 0
	for _, m := range s.Members {
		if m.ReputationScore.LessThan(h.Threshold) {
			low++
		}
	}
	if low == 0 {
		return RiskSignal{Hook: h.Name()}
	}
	score := int(decimal.NewFromInt(int64(h.MaxScore * low)).
		Div(decimal.NewFromInt(int64(len(s.Members)))).Round(0).IntPart())
	return RiskSignal{
		Hook:   h.Name(),
		Score:  score,
		Reason: fmt.Sprintf("%d of %d members below reputation %s", low, len(s.Members), h.Threshold.String()),
	}
}

// ScheduleTamperHook flags a group whose stored signature no longer matches
// its terms, or whose schedule was pushed against the lock too often.
type ScheduleTamperHook struct {
	MaxRejected    int
	RejectedScore  int
	SignatureScore int
}

func (h ScheduleTamperHook) Name() string { return "schedule_tamper" }

func (h ScheduleTamperHook) Evaluate(s RiskSnapshot) RiskSignal {
	if !s.SignatureValid {
		return RiskSignal{Hook: h.Name(), Score: h.SignatureScore, Reason: "group signature mismatch"}
	}
	if s.RejectedScheduleChanges >= h.MaxRejected {
		return RiskSignal{
			Hook:   h.Name(),
			Score:  h.RejectedScore,
			Reason: fmt.Sprintf("%d rejected schedule changes", s.RejectedScheduleChanges),
		}
	}
	return RiskSignal{Hook: h.Name()}
}

// DefaultRiskHooks returns the built-in hooks with their standard settings.
func DefaultRiskHooks() []RiskHook {
	return []RiskHook{
		CollusionHook{Window: 10 * time.Minute, MinRepeats: 2, Score: 60},
		DefaultRiskHook{Threshold: decimal.NewFromInt(40), MaxScore: 80},
		ScheduleTamperHook{MaxRejected: 3, RejectedScore: 40, SignatureScore: 100},
	}
}

// RiskAssessment is the summed outcome of all hooks for one group.
type RiskAssessment struct {
	GroupID string
	Score   int
	Signals []RiskSignal
	Frozen  bool
}

func assessRisk(hooks []RiskHook, s RiskSnapshot) *RiskAssessment {
	a := &RiskAssessment{GroupID: s.Group.ID}
	for _, h := range hooks {
		sig := h.Evaluate(s)
		if sig.Score <= 0 {
			continue
		}
		a.Score += sig.Score
		a.Signals = append(a.Signals, sig)
	}
	return a
}
