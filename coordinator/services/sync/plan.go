package syncservice

// Batch is one dispatch unit bound to a worker index.
type Batch struct {
	Worker int
	IDs    []int64
}

// AssignRoundRobin gives id i to worker i mod workers, keeping the input order per worker.
func AssignRoundRobin(ids []int64, workers int) [][]int64 {
	if workers <= 0 {
		return nil
	}

	out := make([][]int64, workers)
	for i, id := range ids {
		w := i % workers
		out[w] = append(out[w], id)
	}
	return out
}

// SliceBatches cuts ids into consecutive chunks of at most size.
func SliceBatches(ids []int64, size int) [][]int64 {
	if size <= 0 {
		size = 1
	}

	var out [][]int64
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		out = append(out, ids[start:end])
	}
	return out
}

// Interleave merges the per worker queues round-robin: the first batch of every worker in
// ascending worker order, then the second ones, and so on.
func Interleave(queues [][][]int64) []Batch {
	var out []Batch
	for round := 0; ; round++ {
		added := false
		for w, queue := range queues {
			if round < len(queue) {
				out = append(out, Batch{Worker: w, IDs: queue[round]})
				added = true
			}
		}
		if !added {
			return out
		}
	}
}

// Plan assigns ids to workers and returns the global submission order.
func Plan(ids []int64, workers, batchSize int) []Batch {
	assigned := AssignRoundRobin(ids, workers)

	queues := make([][][]int64, len(assigned))
	for w, own := range assigned {
		queues[w] = SliceBatches(own, batchSize)
	}
	return Interleave(queues)
}
