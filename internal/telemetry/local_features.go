package telemetry

import (
	"context"

	"github.com/petasbytes/go-chat/internal/metrics"
	"github.com/petasbytes/go-chat/internal/windowing"
)

// FeaturesVersion is bumped whenever the feature set changes shape.
const FeaturesVersion = "2"

// EmitLocalFeatures records size features of the user's input for the turn in
// ctx. The text itself is never written.
func (r *Recorder) EmitLocalFeatures(ctx context.Context, user string, counter windowing.TokenCounter) {
	if !r.Enabled() {
		return
	}
	fields := IDFields(ctx)
	fields["features_version"] = FeaturesVersion
	fields["user"] = metrics.CountFeatures(user, counter).Fields()
	r.Emit("local_features", fields)
}
