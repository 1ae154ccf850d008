package malloc

import "fmt"

import "github.com/bnclabs/partalloc/lib"
import "github.com/cloudfoundry/gosigar"
import "github.com/dustin/go-humanize"
import "github.com/prataprc/golog"

// bucketStats records the bucket's slot size once for every slot span
// carved for the bucket, so requests.Samples() counts carved spans.
// Individual allocation requests are not recorded.
type bucketStats struct {
	requests lib.AverageInt64
}

// logSystemMemory samples total system memory via gosigar and logs it
// alongside this partition's configured footprint.
func logSystemMemory(tag string, reservedBytes uintptr) {
	mem := sigar.Mem{}
	if err := mem.Get(); err != nil {
		log.Warnf("malloc: partition %q: cannot read system memory: %v", tag, err)
		return
	}
	log.Infof(
		"malloc: partition %q reserving %v of %v system memory",
		tag, humanize.Bytes(uint64(reservedBytes)), humanize.Bytes(mem.Total),
	)
}

// Statistics returns a partition's aggregate counters as a map, the
// shape lib.Prettystats renders for logs and dumps.
func (root *PartitionRoot) Statistics() map[string]interface{} {
	st := root.Stats()
	return map[string]interface{}{
		"reserved":     st.TotalReservedBytes,
		"committed":    st.TotalCommittedBytes,
		"active":       st.TotalActiveBytes,
		"waste":        st.TotalWasteBytes,
		"maxcommitted": st.MaxCommittedBytes,
	}
}

// DumpStats renders a partition's aggregate counters and per-bucket
// utilization as a human-readable report.
func DumpStats(root *PartitionRoot) string {
	st := root.Stats()
	out := fmt.Sprintf(
		"partition %q: reserved %v, committed %v (max %v)\n",
		root.opts.Tag,
		humanize.Bytes(uint64(st.TotalReservedBytes)),
		humanize.Bytes(uint64(st.TotalCommittedBytes)),
		humanize.Bytes(uint64(st.MaxCommittedBytes)),
	)
	out += "  counters: " + lib.Prettystats(root.Statistics(), false) + "\n"
	for i, size := range root.sizes {
		b := &root.buckets[i]
		out += fmt.Sprintf(
			"  bucket %6v bytes: full=%d active=%v empty_ring=%d decommitted=%v spans_carved=%v\n",
			size, b.numFullSpans, b.activeSpans != nil, b.emptyCount, b.decommitted != nil, b.stats.requests.Samples(),
		)
	}
	out += fmt.Sprintf("  span size (partition pages) histogram: %v\n", root.spanHistogram.Stats())
	return out
}
