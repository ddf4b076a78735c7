package pcm

// Resample converts mono samples between rates with linear interpolation.
// Equal rates return the input slice unchanged.
func Resample(samples []float32, fromRate, toRate int) []float32 {
	if fromRate <= 0 || toRate <= 0 || fromRate == toRate || len(samples) == 0 {
		return samples
	}

	outLen := int(int64(len(samples)) * int64(toRate) / int64(fromRate))
	out := make([]float32, outLen)
	step := float64(fromRate) / float64(toRate)
	last := len(samples) - 1

	for i := range out {
		pos := float64(i) * step
		idx := int(pos)
		if idx >= last {
			out[i] = samples[last]
			continue
		}
		frac := float32(pos - float64(idx))
		out[i] = samples[idx] + (samples[idx+1]-samples[idx])*frac
	}
	return out
}

// Resampler 对连续到达的分片做线性插值重采样，跨分片保留相位。
// 分片输出拼接后与整段输入一次处理的结果一致；流末尾最多保留一个采样未输出。
type Resampler struct {
	fromRate int
	toRate   int

	emitted  int64 // 已输出的采样数
	consumed int64 // 已消费的输入采样数
	prev     float32
}

// NewResampler 创建 fromRate 到 toRate 的流式重采样器
func NewResampler(fromRate, toRate int) *Resampler {
	return &Resampler{fromRate: fromRate, toRate: toRate}
}

// Rates 返回输入与输出采样率
func (r *Resampler) Rates() (fromRate, toRate int) {
	return r.fromRate, r.toRate
}

// Process 处理下一段输入。采样率相同或非法时原样返回。
func (r *Resampler) Process(samples []float32) []float32 {
	if r.fromRate <= 0 || r.toRate <= 0 || r.fromRate == r.toRate || len(samples) == 0 {
		return samples
	}

	from, to := int64(r.fromRate), int64(r.toRate)
	base := r.consumed
	total := base + int64(len(samples))

	at := func(idx int64) float32 {
		if idx < base {
			return r.prev
		}
		return samples[idx-base]
	}

	out := make([]float32, 0, int(int64(len(samples))*to/from)+1)
	for {
		num := r.emitted * from
		idx := num / to
		if idx+1 >= total {
			break
		}
		frac := float32(num%to) / float32(to)
		a, b := at(idx), at(idx+1)
		out = append(out, a+(b-a)*frac)
		r.emitted++
	}

	r.consumed = total
	r.prev = samples[len(samples)-1]
	return out
}
