package malloc

import s "github.com/prataprc/gosettings"

// Alignment is the minimum slot alignment; every slot size is a
// multiple of Alignment.
const Alignment = uintptr(16)

// SmallestBucket is the smallest request size handled by the bucket
// table; smaller requests round up to it.
const SmallestBucket = Alignment

// MaxBucketed is the largest request size handled by a bucket; larger
// requests take the direct-map path.
const MaxBucketed = uintptr(983040)

// BucketsPerOrder is the number of linear steps each power-of-two order
// is divided into.
const BucketsPerOrder = 4

// MaxFreeableSpans bounds the size of a bucket's empty-span ring.
const MaxFreeableSpans = 16

// Options configure a PartitionRoot.
type Options struct {
	// ThreadCache enables the per-bucket sync.Pool-backed cache that
	// front-ends Alloc/Free on the calling goroutine.
	ThreadCache bool
	// RefCount enables a leading reference-count word per slot.
	RefCount bool
	// AlignedAllocs makes the partition AlignedAlloc-capable. A regular
	// partition aborts on AlignedAlloc, since alignment guarantees
	// conflict with per-slot extras.
	AlignedAllocs bool
	// MallocReplacement marks this partition as the process's system
	// malloc stand-in. Such a partition must not carry a thread cache;
	// the combination is rejected at construction.
	MallocReplacement bool
	// Quarantine selects the process-wide quarantine policy this
	// partition participates in.
	Quarantine QuarantineMode
	// Tag names this partition, used in abort messages and dumps.
	Tag string
}

// QuarantineMode mirrors api.QuarantineMode so malloc does not need to
// import api for this one enum; fromAPIQuarantineMode in root.go
// converts between the two at the api.Features boundary.
type QuarantineMode int

const (
	QuarantineAlwaysDisabled QuarantineMode = iota
	QuarantineDisabledByDefault
	QuarantineForcedEnabled
)

// Defaultsettings returns this partition's configuration as a
// gosettings.Settings map.
func Defaultsettings() s.Settings {
	return s.Settings{
		"partition.threadcache": true,
		"partition.refcount":    false,
		"partition.aligned":     false,
		"partition.mallocreplc": false,
		"partition.quarantine":  int64(QuarantineAlwaysDisabled),
		"partition.tag":         "default",
	}
}

// Setts2options converts a gosettings.Settings map into Options,
// applying Defaultsettings() for any key the caller did not supply.
func Setts2options(setts s.Settings) Options {
	merged := Defaultsettings().Mixin(setts)
	return Options{
		ThreadCache:       merged.Bool("partition.threadcache"),
		RefCount:          merged.Bool("partition.refcount"),
		AlignedAllocs:     merged.Bool("partition.aligned"),
		MallocReplacement: merged.Bool("partition.mallocreplc"),
		Quarantine:        QuarantineMode(merged.Int64("partition.quarantine")),
		Tag:               merged.String("partition.tag"),
	}
}
