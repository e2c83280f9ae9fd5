package etexception

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRiskContribution(t *testing.T) {
	// MEDIUM priority 1 + HIGH priority 2 = 25*1.1 + 50*1.2 = 87.5
	medium := &Rule{Severity: SeverityMedium, Priority: 1}
	high := &Rule{Severity: SeverityHigh, Priority: 2}

	score := medium.RiskContribution() + high.RiskContribution()
	assert.InDelta(t, 87.5, score, 0.0001)
	assert.Equal(t, score, ClampScore(score))
}

func TestSeverityWeights(t *testing.T) {
	assert.Equal(t, 10.0, SeverityWeight(SeverityLow))
	assert.Equal(t, 25.0, SeverityWeight(SeverityMedium))
	assert.Equal(t, 50.0, SeverityWeight(SeverityHigh))
	assert.Equal(t, 80.0, SeverityWeight(SeverityCritical))
}

func TestClampScore(t *testing.T) {
	assert.Equal(t, 0.0, ClampScore(-5))
	assert.Equal(t, 42.0, ClampScore(42))
	assert.Equal(t, 100.0, ClampScore(250))
}

func TestRuleValidate(t *testing.T) {
	valid := &Rule{
		ID:         "r1",
		Conditions: []Condition{{Field: "status", Operator: OpEq, Value: "PAID"}},
	}
	assert.NoError(t, valid.Validate())

	noID := &Rule{Conditions: valid.Conditions}
	assert.ErrorIs(t, noID.Validate(), ErrInvalidRuleID)

	noConds := &Rule{ID: "r2"}
	assert.ErrorIs(t, noConds.Validate(), ErrNoConditions)

	badOp := &Rule{
		ID:         "r3",
		Conditions: []Condition{{Field: "status", Operator: Operator("like"), Value: "x"}},
	}
	assert.ErrorIs(t, badOp.Validate(), ErrUnknownOperator)
}

func TestRecordLifecycle(t *testing.T) {
	record := &Record{Status: RecordStatusDetected}
	assert.False(t, record.IsClosed())

	record.MarkProcessing()
	assert.Equal(t, RecordStatusProcessing, record.Status)
	assert.False(t, record.IsClosed())

	record.MarkResolved()
	assert.Equal(t, RecordStatusResolved, record.Status)
	assert.NotNil(t, record.ResolvedAt)
	assert.True(t, record.IsClosed())

	escalated := &Record{Status: RecordStatusDetected}
	escalated.MarkEscalated()
	assert.True(t, escalated.IsClosed())

	ignored := &Record{Status: RecordStatusDetected}
	ignored.MarkIgnored()
	assert.True(t, ignored.IsClosed())
}
