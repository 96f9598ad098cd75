package pipeline

import (
	"math"
	"math/rand"
	"sort"

	"github.com/hed1ad/logids/pkg/record"
)

type labelKey struct {
	nanos int64
	ip    string
}

// MergeLabels returns one label per record, joined on (timestamp, source IP).
// Records without a matching label get 0. When a key is labeled more than
// once the highest label wins.
func MergeLabels(records []record.EnrichedRecord, labels []record.Label) []int {
	byKey := make(map[labelKey]int, len(labels))
	for _, l := range labels {
		k := labelKey{nanos: l.Timestamp.UnixNano(), ip: l.SourceIP}
		if cur, ok := byKey[k]; !ok || l.Label > cur {
			byKey[k] = l.Label
		}
	}

	y := make([]int, len(records))
	for i := range records {
		if records[i].Timestamp == nil {
			continue
		}
		y[i] = byKey[labelKey{nanos: records[i].Timestamp.UnixNano(), ip: records[i].SourceIP}]
	}
	return y
}

// classCounts returns the number of rows per label.
func classCounts(y []int) map[int]int {
	counts := make(map[int]int)
	for _, v := range y {
		counts[v]++
	}
	return counts
}

// TrainTestSplit partitions row indices into train and holdout sets. When
// every class has at least two members the split is stratified and keeps at
// least one member of each class in the training set. Otherwise rows are
// shuffled, the first shuffled row of every class is pinned to the training
// set, and the holdout takes up to ceil(testSize*n) of the remaining rows.
func TrainTestSplit(y []int, testSize float64, seed int64) (train, test []int) {
	rng := rand.New(rand.NewSource(seed))
	counts := classCounts(y)

	stratify := len(counts) > 1
	for _, c := range counts {
		if c < 2 {
			stratify = false
		}
	}

	if !stratify {
		nTest := int(math.Ceil(testSize * float64(len(y))))
		nTest = max(0, min(nTest, len(y)-len(counts)))

		seen := make(map[int]bool, len(counts))
		for _, i := range rng.Perm(len(y)) {
			if !seen[y[i]] {
				seen[y[i]] = true
				train = append(train, i)
				continue
			}
			if len(test) < nTest {
				test = append(test, i)
			} else {
				train = append(train, i)
			}
		}
		sort.Ints(train)
		sort.Ints(test)
		return train, test
	}

	classes := make([]int, 0, len(counts))
	for c := range counts {
		classes = append(classes, c)
	}
	sort.Ints(classes)

	byClass := make(map[int][]int, len(classes))
	for i, v := range y {
		byClass[v] = append(byClass[v], i)
	}
	for _, c := range classes {
		idx := byClass[c]
		rng.Shuffle(len(idx), func(a, b int) { idx[a], idx[b] = idx[b], idx[a] })
		nTest := int(math.Round(testSize * float64(len(idx))))
		if nTest > len(idx)-1 {
			nTest = len(idx) - 1
		}
		test = append(test, idx[:nTest]...)
		train = append(train, idx[nTest:]...)
	}
	sort.Ints(train)
	sort.Ints(test)
	return train, test
}
