package export

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/poligogo/MattermostDll/internal/mattermost"
)

// SyncMode is decided once per run, before any channel is processed.
type SyncMode int

const (
	// SyncFull exports everything and ignores any prior state.
	SyncFull SyncMode = iota
	// SyncIncremental consults the sync store to fetch only new
	// content and skip already-downloaded attachments.
	SyncIncremental
	// SyncSelective is a full export restricted to a channel subset.
	SyncSelective
)

func (m SyncMode) String() string {
	switch m {
	case SyncIncremental:
		return "incremental"
	case SyncSelective:
		return "selective"
	default:
		return "full"
	}
}

// DecideSyncMode picks the run mode: the incremental flag wins, then a
// narrowed channel selection makes the run selective.
func DecideSyncMode(incremental bool, s Selection) SyncMode {
	if incremental {
		return SyncIncremental
	}
	if s.Mode != SelectAll {
		return SyncSelective
	}
	return SyncFull
}

// ErrEmptySelection is returned when a filter leaves no channels.
var ErrEmptySelection = errors.New("selection matches no channels")

// SelectionMode names how the channel subset was chosen.
type SelectionMode int

const (
	SelectAll SelectionMode = iota
	SelectIndices
	SelectTypes
	SelectExclude
)

// Selection is the parsed, validated channel filter. It is produced by
// the pure parsing functions below; prompting lives in the CLI shell.
type Selection struct {
	Mode    SelectionMode
	Indices []int    // SelectIndices / SelectExclude
	Types   []string // SelectTypes
}

// Apply filters channels by the selection. Index selections were
// validated against the same channel count at parse time.
func (s Selection) Apply(channels []mattermost.Channel) ([]mattermost.Channel, error) {
	switch s.Mode {
	case SelectAll:
		return channels, nil

	case SelectIndices:
		picked := make([]mattermost.Channel, 0, len(s.Indices))
		for _, i := range s.Indices {
			if i < 0 || i >= len(channels) {
				return nil, fmt.Errorf("channel index %d out of range [0, %d)", i, len(channels))
			}
			picked = append(picked, channels[i])
		}
		return picked, nil

	case SelectTypes:
		var picked []mattermost.Channel
		for _, ch := range channels {
			for _, t := range s.Types {
				if ch.Type == t {
					picked = append(picked, ch)
					break
				}
			}
		}
		if len(picked) == 0 {
			return nil, ErrEmptySelection
		}
		return picked, nil

	case SelectExclude:
		excluded := make(map[int]bool, len(s.Indices))
		for _, i := range s.Indices {
			excluded[i] = true
		}
		var picked []mattermost.Channel
		for i, ch := range channels {
			if !excluded[i] {
				picked = append(picked, ch)
			}
		}
		if len(picked) == 0 {
			return nil, ErrEmptySelection
		}
		return picked, nil
	}
	return nil, fmt.Errorf("unknown selection mode %d", s.Mode)
}

// ParseIndexList parses a channel index expression such as
// "0,1,5,10-15" into a deduplicated, sorted index list validated
// against [0, count). Blank parts are skipped.
func ParseIndexList(input string, count int) ([]int, error) {
	seen := make(map[int]bool)

	for _, part := range strings.Split(input, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		if strings.Contains(part, "-") {
			bounds := strings.Split(part, "-")
			if len(bounds) != 2 {
				return nil, fmt.Errorf("invalid range %q", part)
			}
			start, err := strconv.Atoi(strings.TrimSpace(bounds[0]))
			if err != nil {
				return nil, fmt.Errorf("invalid range %q: %w", part, err)
			}
			end, err := strconv.Atoi(strings.TrimSpace(bounds[1]))
			if err != nil {
				return nil, fmt.Errorf("invalid range %q: %w", part, err)
			}
			if start > end {
				return nil, fmt.Errorf("range start exceeds end in %q", part)
			}
			for i := start; i <= end; i++ {
				seen[i] = true
			}
			continue
		}

		idx, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid index %q: %w", part, err)
		}
		seen[idx] = true
	}

	indices := make([]int, 0, len(seen))
	for i := range seen {
		indices = append(indices, i)
	}
	sort.Ints(indices)

	for _, i := range indices {
		if i < 0 || i >= count {
			return nil, fmt.Errorf("channel index %d out of valid range 0-%d", i, count-1)
		}
	}
	return indices, nil
}

// channelTypeCodes maps the user-facing type codes to the API values.
// The codes happen to match the server's own channel type letters.
var channelTypeCodes = map[string]string{
	"D": mattermost.ChannelTypeDirect,
	"P": mattermost.ChannelTypePrivate,
	"O": mattermost.ChannelTypeOpen,
	"G": mattermost.ChannelTypeGroup,
}

// ParseTypeFilter parses a comma-separated channel type expression such
// as "D,P" into validated channel type values.
func ParseTypeFilter(input string) ([]string, error) {
	var types []string
	for _, part := range strings.Split(input, ",") {
		code := strings.ToUpper(strings.TrimSpace(part))
		if code == "" {
			continue
		}
		t, ok := channelTypeCodes[code]
		if !ok {
			return nil, fmt.Errorf("invalid channel type %q (valid: D, P, O, G)", code)
		}
		types = append(types, t)
	}
	if len(types) == 0 {
		return nil, fmt.Errorf("no channel types given (valid: D, P, O, G)")
	}
	return types, nil
}
