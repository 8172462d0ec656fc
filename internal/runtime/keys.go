package runtime

import "strconv"

// Key prefixes for primary records.
const (
	prefixTemplate   = "template:"
	prefixExecutable = "executable:"
	prefixInstance   = "instance:"
)

// Schedule sorted sets, scored by next due time (epoch seconds).
const (
	SchedulePeriodicKey = "schedule:periodic"
	ScheduleOneTimeKey  = "schedule:one_time"
)

// Secondary index sets: target key (or group id) -> instance ids.
const (
	prefixTargetIndex = "event_idx:target_instances:"
	prefixGroupIndex  = "event_idx:group_instances:"
)

// TemplateKey returns the record key for a pinned template version.
func TemplateKey(templateID string, version int) string {
	return prefixTemplate + templateID + ":" + strconv.Itoa(version)
}

// ExecutableKey returns the record key for the executable compiled from
// one template version. Compilation is deterministic, so keying by the
// source template pins exactly one executable.
func ExecutableKey(templateID string, version int) string {
	return prefixExecutable + templateID + ":" + strconv.Itoa(version)
}

// InstanceKey returns the record key for a projected instance.
func InstanceKey(instanceID string) string {
	return prefixInstance + instanceID
}

// TargetIndexKey returns the index set key for one target key.
func TargetIndexKey(targetKey string) string {
	return prefixTargetIndex + targetKey
}

// GroupIndexKey returns the index set key for one group id.
func GroupIndexKey(groupID string) string {
	return prefixGroupIndex + groupID
}
