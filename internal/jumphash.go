package internal

// JumpHash maps a key hash to a bucket in [0, buckets) with Google's
// "Jump" consistent hash (https://arxiv.org/abs/1406.2294). Growing
// the bucket count remaps only 1/buckets of the keys; no ring or
// lookup table is needed.
func JumpHash(hash uint64, buckets int) int {
	if buckets <= 0 {
		return 0
	}

	var bucket int64 = -1
	var next int64

	for next < int64(buckets) {
		bucket = next
		hash = hash*2862933555777941757 + 1
		next = int64(float64(bucket+1) * (float64(int64(1)<<31) / float64((hash>>33)+1)))
	}

	return int(bucket)
}
