package main

import "flag"
import "fmt"

import "github.com/bnclabs/partalloc/malloc"

var options struct {
	refcount    bool
	threadcache bool
	tag         string
}

func argParse() {
	flag.BoolVar(&options.refcount, "refcount", false, "enable per-slot reference counting")
	flag.BoolVar(&options.threadcache, "threadcache", true, "enable the thread cache")
	flag.StringVar(&options.tag, "tag", "allocstat", "partition tag")
	flag.Parse()
}

func main() {
	argParse()
	tellutilization()
}

func tellutilization() {
	opts := malloc.Options{
		ThreadCache: options.threadcache,
		RefCount:    options.refcount,
		Tag:         options.tag,
	}
	root := malloc.NewPartitionRoot(opts)
	sizes := malloc.InitBucketSizes()
	fmt.Println(sizes)
	for i, size := range sizes[1:] {
		u := (float64(sizes[i]+sizes[i+1]) / 2.0) / float64(size)
		fmt.Printf("size %6v, util %v\n", size, u)
	}
	fmt.Printf("total %v size pools\n", len(sizes))
	fmt.Print(malloc.DumpStats(root))
}
