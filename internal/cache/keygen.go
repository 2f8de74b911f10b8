package cache

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/dashcache/dashcache/pkg/types"
)

// KeyPrefix starts every generated key.
const KeyPrefix = "widget"

// KeyParams identifies one cacheable read of a resource.
type KeyParams struct {
	ResourceID string                 `json:"resource_id" validate:"required"`
	DateRange  *types.DateRange       `json:"date_range,omitempty"`
	UserID     string                 `json:"user_id,omitempty"`
	Filters    map[string]interface{} `json:"filters,omitempty"`
}

// GenerateKey builds the cache key for params. Date ranges are normalized to
// whole UTC days and filters are sorted by name, so time-of-day jitter and map
// ordering never produce distinct keys.
//
// Format: widget:<id>[:dr:<from>_<to>][:u:<user>][:f:<k>:<v>,...]
func GenerateKey(params KeyParams) string {
	var sb strings.Builder
	sb.WriteString(KeyPrefix)
	sb.WriteByte(':')
	sb.WriteString(params.ResourceID)

	if params.DateRange != nil {
		sb.WriteString(":dr:")
		sb.WriteString(params.DateRange.String())
	}

	if params.UserID != "" {
		sb.WriteString(":u:")
		sb.WriteString(params.UserID)
	}

	if len(params.Filters) > 0 {
		names := make([]string, 0, len(params.Filters))
		for name := range params.Filters {
			names = append(names, name)
		}
		sort.Strings(names)

		sb.WriteString(":f:")
		for i, name := range names {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(name)
			sb.WriteByte(':')
			sb.WriteString(formatFilterValue(params.Filters[name]))
		}
	}

	return sb.String()
}

func formatFilterValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprintf("%v", val)
	}
}

// KeyDigest returns the 64-bit digest of a key, used for shard selection.
func KeyDigest(key string) uint64 {
	return xxhash.Sum64String(key)
}

// ResourcePrefix returns the key prefix shared by every key of resourceID.
func ResourcePrefix(resourceID string) string {
	return KeyPrefix + ":" + resourceID
}

// BelongsTo reports whether key was generated for resourceID.
func BelongsTo(key, resourceID string) bool {
	prefix := ResourcePrefix(resourceID)
	if !strings.HasPrefix(key, prefix) {
		return false
	}
	rest := key[len(prefix):]
	return rest == "" || rest[0] == ':'
}

// RangesOverlap reports whether two date ranges share at least one instant
// after normalization to whole days.
func RangesOverlap(a, b types.DateRange) bool {
	na, nb := a.Normalize(), b.Normalize()
	return !na.To.Before(nb.From) && !nb.To.Before(na.From)
}
