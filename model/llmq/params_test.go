package llmq_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumnet/llmq/model/llmq"
)

func TestDefaultParams(t *testing.T) {
	for _, typ := range []llmq.Type{llmq.Type50_60, llmq.Type400_60, llmq.Type400_85} {
		params, err := llmq.DefaultParams(typ)
		require.NoError(t, err)
		assert.NoError(t, params.Validate())
		assert.Equal(t, typ, params.Type)
	}

	_, err := llmq.DefaultParams(llmq.TypeNone)
	assert.Error(t, err)
}

func TestParams_Validate(t *testing.T) {
	valid, err := llmq.DefaultParams(llmq.Type50_60)
	require.NoError(t, err)

	cases := []struct {
		name   string
		mutate func(*llmq.Params)
	}{
		{"none type", func(p *llmq.Params) { p.Type = llmq.TypeNone }},
		{"zero size", func(p *llmq.Params) { p.Size = 0 }},
		{"min size above size", func(p *llmq.Params) { p.MinSize = p.Size + 1 }},
		{"zero threshold", func(p *llmq.Params) { p.Threshold = 0 }},
		{"zero interval", func(p *llmq.Params) { p.DKGInterval = 0 }},
		{"zero phase blocks", func(p *llmq.Params) { p.DKGPhaseBlocks = 0 }},
		{"phases exceed interval", func(p *llmq.Params) { p.DKGPhaseBlocks = p.DKGInterval }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			params := valid
			tc.mutate(&params)
			assert.Error(t, params.Validate())
		})
	}
}

func TestPhase_Next(t *testing.T) {
	assert.Equal(t, llmq.PhaseContribute, llmq.PhaseInitialized.Next())
	assert.Equal(t, llmq.PhaseIdle, llmq.PhaseFinalize.Next())
	// the cycle wraps from Idle into the next round
	assert.Equal(t, llmq.PhaseInitialized, llmq.PhaseIdle.Next())
	assert.Equal(t, llmq.PhaseNone, llmq.PhaseNone.Next())
}
