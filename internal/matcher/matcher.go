// Package matcher 人脸识别匹配器：在已登记人员的特征向量上做最近邻搜索。
package matcher

import (
	"errors"
	"math"

	"homewatch/internal/models"
)

// DefaultThreshold 识别阈值（欧氏距离，严格小于该值才算命中）
const DefaultThreshold = 0.6

// ErrDescriptorRequired 调用方未提供特征向量
var ErrDescriptorRequired = errors.New("descriptor is required")

// Result 匹配结果
type Result struct {
	Face       *models.KnownFace `json:"face"`
	Distance   float64           `json:"distance"`
	Confidence float64           `json:"confidence"` // 1 - distance
}

// EuclideanDistance 计算两个等长向量的欧氏距离
func EuclideanDistance(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// BestMatch 在已登记人员中寻找最近邻
// 规则：
// - 维度不一致的向量直接跳过，不视为错误
// - 距离必须严格小于 threshold 才算命中
// - 多个候选都低于阈值时取距离最小者，距离相同取先登记者
// 返回命中结果（未命中为 nil）和扫描到的最小距离（无可比较向量时为 +Inf）
func BestMatch(descriptor []float64, faces []*models.KnownFace, threshold float64) (*Result, float64, error) {
	if len(descriptor) == 0 {
		return nil, math.Inf(1), ErrDescriptorRequired
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	var best *models.KnownFace
	bestDistance := math.Inf(1)

	for _, face := range faces {
		if !face.HasDescriptor() || len(face.Descriptor) != len(descriptor) {
			continue
		}

		distance := EuclideanDistance(descriptor, face.Descriptor)
		if distance < bestDistance {
			bestDistance = distance
			if distance < threshold {
				best = face
			} else {
				best = nil
			}
		}
	}

	if best == nil {
		return nil, bestDistance, nil
	}

	return &Result{
		Face:       best,
		Distance:   bestDistance,
		Confidence: 1 - bestDistance,
	}, bestDistance, nil
}
