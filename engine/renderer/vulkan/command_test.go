package vulkan

import (
	"testing"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima/engine/renderer/gpu"
)

func TestLayoutForBackBufferTransitions(t *testing.T) {
	tests := []struct {
		name      string
		before    gpu.ResourceState
		after     gpu.ResourceState
		srcStage  vk.PipelineStageFlagBits
		dstStage  vk.PipelineStageFlagBits
		newLayout vk.ImageLayout
	}{
		{
			name:      "acquire to clear",
			before:    gpu.ResourceStatePresent,
			after:     gpu.ResourceStateRenderTarget,
			srcStage:  vk.PipelineStageTransferBit,
			dstStage:  vk.PipelineStageTransferBit,
			newLayout: vk.ImageLayoutTransferDstOptimal,
		},
		{
			name:      "clear to present",
			before:    gpu.ResourceStateRenderTarget,
			after:     gpu.ResourceStatePresent,
			srcStage:  vk.PipelineStageTransferBit,
			dstStage:  vk.PipelineStageBottomOfPipeBit,
			newLayout: vk.ImageLayoutPresentSrc,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, dst := layoutFor(tt.before), layoutFor(tt.after)
			if src.srcStage != tt.srcStage || dst.dstStage != tt.dstStage {
				t.Errorf("stages %v -> %v, want %v -> %v", src.srcStage, dst.dstStage, tt.srcStage, tt.dstStage)
			}
			if dst.layout != tt.newLayout {
				t.Errorf("layout %v, want %v", dst.layout, tt.newLayout)
			}
		})
	}
	// The first barrier of a frame must be chained to the acquire semaphore.
	if got := layoutFor(gpu.ResourceStatePresent).srcStage; got != acquireWaitStage {
		t.Errorf("present source stage %v, acquire wait stage %v", got, acquireWaitStage)
	}
}
