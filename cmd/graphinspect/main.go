// Main package in graphinspect implements a small read-only command
// line tool for summarizing a dataset's pipeline output: top-N nodes
// by betweenness, a degree histogram, and the total count of mapped
// IPs.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"sort"

	"github.com/gocarina/gocsv"

	"github.com/m-lab/go/rtx"
)

func init() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

var (
	outputDir = flag.String("output", ".", "Directory containing mapping.csv, degree.csv, and betweenness.csv.")
	topN      = flag.Int("top", 10, "How many highest-betweenness nodes to print.")
)

type mappingRow struct {
	IP     string `csv:"ip"`
	NodeID int64  `csv:"node_id"`
}

type degreeRow struct {
	NodeID    int64   `csv:"node_id"`
	DegreeIn  int     `csv:"degree_in"`
	DegreeOut int     `csv:"degree_out"`
	AndIn     float64 `csv:"and_in"`
	AndOut    float64 `csv:"and_out"`
	AndTotal  float64 `csv:"and_total"`
	IAndIn    float64 `csv:"iand_in"`
	IAndOut   float64 `csv:"iand_out"`
	IAndTotal float64 `csv:"iand_total"`
}

type betweennessRow struct {
	NodeID      int64   `csv:"node_id"`
	Betweenness float64 `csv:"betweenness"`
}

func readRows[T any](path string) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var rows []T
	if err := gocsv.UnmarshalFile(f, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func printMappingSummary(dir string) {
	rows, err := readRows[mappingRow](dir + "/mapping.csv")
	rtx.Must(err, "Could not read mapping.csv")
	fmt.Printf("mapped IPs: %d\n", len(rows))
}

func printDegreeHistogram(dir string) {
	rows, err := readRows[degreeRow](dir + "/degree.csv")
	rtx.Must(err, "Could not read degree.csv")

	buckets := map[int]int{}
	for _, r := range rows {
		total := r.DegreeIn + r.DegreeOut
		buckets[bucketFor(total)]++
	}

	fmt.Println("degree histogram (in+out):")
	for _, b := range sortedBucketKeys(buckets) {
		fmt.Printf("  %s: %d\n", bucketLabel(b), buckets[b])
	}
}

// bucketFor buckets a degree value into a power-of-two bucket index:
// 0 for degree 0, 1 for [1,2), 2 for [2,4), and so on.
func bucketFor(degree int) int {
	if degree <= 0 {
		return 0
	}
	b := 1
	upper := 2
	for degree >= upper {
		b++
		upper *= 2
	}
	return b
}

func bucketLabel(b int) string {
	if b == 0 {
		return "0"
	}
	lo := 1
	for i := 1; i < b; i++ {
		lo *= 2
	}
	return fmt.Sprintf("[%d,%d)", lo, lo*2)
}

func sortedBucketKeys(buckets map[int]int) []int {
	keys := make([]int, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

func printTopBetweenness(dir string, n int) {
	rows, err := readRows[betweennessRow](dir + "/betweenness.csv")
	rtx.Must(err, "Could not read betweenness.csv")

	sort.Slice(rows, func(i, j int) bool { return rows[i].Betweenness > rows[j].Betweenness })
	if n > len(rows) {
		n = len(rows)
	}

	fmt.Printf("top %d nodes by betweenness:\n", n)
	for _, r := range rows[:n] {
		fmt.Printf("  node %d: %.6f\n", r.NodeID, r.Betweenness)
	}
}

func main() {
	flag.Parse()

	printMappingSummary(*outputDir)
	printDegreeHistogram(*outputDir)
	printTopBetweenness(*outputDir, *topN)
}
