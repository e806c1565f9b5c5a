package export

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/poligogo/MattermostDll/internal/mattermost"
)

// ContinuePrompter is asked whether to keep going after a per-channel
// failure. The CLI implementation asks the operator; tests script it.
type ContinuePrompter interface {
	ContinueAfterFailure(channelName string, err error) bool
}

// ChannelFailure records one failed channel for the final report.
type ChannelFailure struct {
	Name string
	Err  string
}

// Report aggregates the outcome of a run.
type Report struct {
	Total     int // channels known on the team
	Attempted int
	Succeeded int
	Posts     int
	Failures  []ChannelFailure
	Stats     *Stats
}

// FailedNames returns the failed channel names joined for copy-paste
// into a retry selection.
func (r Report) FailedNames() string {
	names := make([]string, 0, len(r.Failures))
	for _, f := range r.Failures {
		names = append(names, f.Name)
	}
	return strings.Join(names, ", ")
}

// DecorateChannels attaches the team id to each channel, resolves
// direct-message display names from the user cache, and sorts the list
// case-insensitively by display name.
//
// A direct channel's raw name is "<id1>__<id2>"; the display name
// becomes the other participant's username, or a synthesized
// "Unknown_User_<id>" label when the cache has no entry.
func DecorateChannels(channels []mattermost.Channel, teamID, myUserID string, userNames map[string]string) []mattermost.Channel {
	out := make([]mattermost.Channel, len(channels))
	copy(out, channels)

	for i := range out {
		out[i].TeamID = teamID
		if out[i].Type != mattermost.ChannelTypeDirect {
			continue
		}
		ids := strings.SplitN(out[i].Name, "__", 2)
		if len(ids) != 2 {
			continue
		}
		otherID := ids[0]
		if ids[0] == myUserID {
			otherID = ids[1]
		}
		if name, ok := userNames[otherID]; ok {
			out[i].DisplayName = name
		} else {
			out[i].DisplayName = "Unknown_User_" + otherID
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return strings.ToLower(out[i].DisplayName) < strings.ToLower(out[j].DisplayName)
	})
	return out
}

// Orchestrator drives the channel exporter over a selected channel set,
// one channel at a time, collecting a failure report.
type Orchestrator struct {
	Exporter *ChannelExporter
	Prompt   ContinuePrompter
	Logger   *zap.Logger
}

// Run exports each channel in order. A failed channel is recorded and
// the prompter decides whether to continue; declining stops further
// processing but still yields the aggregate report.
func (o *Orchestrator) Run(ctx context.Context, channels []mattermost.Channel, total int, outputRoot string) Report {
	report := Report{Total: total, Stats: NewStats()}

	for i, ch := range channels {
		o.Logger.Info("Starting channel export",
			zap.Int("position", i+1),
			zap.Int("selected", len(channels)),
			zap.String("channel", ch.DisplayName))

		report.Attempted++
		res, err := o.Exporter.Export(ctx, ch, outputRoot)
		report.Stats.Merge(res.Stats)
		report.Posts += res.PostsEmitted

		if err != nil {
			o.Logger.Error("Channel export failed",
				zap.String("channel", ch.DisplayName),
				zap.Error(err))
			report.Failures = append(report.Failures, ChannelFailure{
				Name: ch.DisplayName,
				Err:  err.Error(),
			})
			if ctx.Err() != nil {
				break
			}
			if o.Prompt != nil && !o.Prompt.ContinueAfterFailure(ch.DisplayName, err) {
				o.Logger.Info("Stopping after failure at operator request")
				break
			}
			continue
		}

		report.Succeeded++
		o.Logger.Info("Finished channel export",
			zap.String("channel", ch.DisplayName),
			zap.Int("posts", res.PostsEmitted))
	}

	return report
}
