package domain

import "time"

// MetricBucket is the hourly rollup of submission outcomes for one
// (date, hour) period. Counts merge by addition, averages by running average
// weighted by sample count, maxima by max.
type MetricBucket struct {
	Date              string
	Hour              int
	SubmittedCount    int64
	SucceededCount    int64
	FailedCount       int64
	CancelledCount    int64
	DurationSamples   int64
	AvgConversionMs   float64
	AvgTransmissionMs float64
	AvgTotalMs        float64
	MaxConversionMs   int64
	MaxTransmissionMs int64
	MaxTotalMs        int64
	UpdatedAt         time.Time
}

const metricDateLayout = "2006-01-02"

// BucketKeyFor returns the (date, hour) bucket a timestamp falls into, in UTC.
func BucketKeyFor(t time.Time) (string, int) {
	utc := t.UTC()
	return utc.Format(metricDateLayout), utc.Hour()
}

// Merge folds other into b. Counts are associative; the duration averages use
// a running average weighted by sample count, which is order-dependent across
// merge sequences. That matches the source system's accumulation contract and
// is acceptable at hourly granularity.
func (b *MetricBucket) Merge(other MetricBucket) {
	b.SubmittedCount += other.SubmittedCount
	b.SucceededCount += other.SucceededCount
	b.FailedCount += other.FailedCount
	b.CancelledCount += other.CancelledCount

	total := b.DurationSamples + other.DurationSamples
	if total > 0 {
		b.AvgConversionMs = weightedAvg(b.AvgConversionMs, b.DurationSamples, other.AvgConversionMs, other.DurationSamples)
		b.AvgTransmissionMs = weightedAvg(b.AvgTransmissionMs, b.DurationSamples, other.AvgTransmissionMs, other.DurationSamples)
		b.AvgTotalMs = weightedAvg(b.AvgTotalMs, b.DurationSamples, other.AvgTotalMs, other.DurationSamples)
	}
	b.DurationSamples = total

	b.MaxConversionMs = maxInt64(b.MaxConversionMs, other.MaxConversionMs)
	b.MaxTransmissionMs = maxInt64(b.MaxTransmissionMs, other.MaxTransmissionMs)
	b.MaxTotalMs = maxInt64(b.MaxTotalMs, other.MaxTotalMs)
}

// ObserveSubmission folds one terminal submission into the bucket.
func (b *MetricBucket) ObserveSubmission(s Submission) {
	b.SubmittedCount++
	switch s.Status {
	case StatusSent:
		b.SucceededCount++
	case StatusCancelled:
		b.CancelledCount++
	case StatusFailed, StatusTimeout:
		b.FailedCount++
	default:
		return
	}

	if s.Status != StatusSent {
		return
	}

	samples := b.DurationSamples + 1
	b.AvgConversionMs = weightedAvg(b.AvgConversionMs, b.DurationSamples, float64(s.ConversionMs), 1)
	b.AvgTransmissionMs = weightedAvg(b.AvgTransmissionMs, b.DurationSamples, float64(s.TransmissionMs), 1)
	b.AvgTotalMs = weightedAvg(b.AvgTotalMs, b.DurationSamples, float64(s.TotalMs), 1)
	b.DurationSamples = samples

	b.MaxConversionMs = maxInt64(b.MaxConversionMs, s.ConversionMs)
	b.MaxTransmissionMs = maxInt64(b.MaxTransmissionMs, s.TransmissionMs)
	b.MaxTotalMs = maxInt64(b.MaxTotalMs, s.TotalMs)
}

func weightedAvg(a float64, aN int64, b float64, bN int64) float64 {
	total := aN + bN
	if total == 0 {
		return 0
	}
	return (a*float64(aN) + b*float64(bN)) / float64(total)
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
