package color

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"harvest/harvest/utils/types"
)

func TestStepPlainWhenDisabled(t *testing.T) {
	Disable()
	assert.Equal(t, "step 2 click https://e.com/", Step(types.StepEvent{Step: 2, Action: "click", URL: "https://e.com/"}))
	assert.Equal(t, "(planned) step 1 navigate failed: boom",
		Step(types.StepEvent{Step: 1, Action: "navigate", Planned: true, Failed: true, Outcome: "boom"}))
	assert.Equal(t, "done", Success("done"))
}
