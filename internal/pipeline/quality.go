package pipeline

import (
	"unicode"

	"studyforge-go/internal/config"
)

// QualityGate 判断主抽取器得到的文本是否足够，不够时走逐页 OCR。
type QualityGate struct {
	MinMeaningfulChars int
	MinAlnumPerPage    int
	MinAlnumRatio      float64
}

// NewQualityGate 从配置构造 QualityGate。
func NewQualityGate(cfg config.IngestConfig) QualityGate {
	return QualityGate{
		MinMeaningfulChars: cfg.MinMeaningfulChars,
		MinAlnumPerPage:    cfg.MinAlnumPerPage,
		MinAlnumRatio:      cfg.MinAlnumRatio,
	}
}

// Meaningful 三个条件同时满足才返回 true：
// 非空白字符数 > MinMeaningfulChars；
// 字母数字字符数 >= MinAlnumPerPage * max(pageCount, 1)；
// 字母数字字符占非空白字符的比例 >= MinAlnumRatio。
func (g QualityGate) Meaningful(text string, pageCount int) bool {
	nonSpace, alnum := 0, 0
	for _, r := range text {
		if unicode.IsSpace(r) {
			continue
		}
		nonSpace++
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			alnum++
		}
	}
	if nonSpace <= g.MinMeaningfulChars {
		return false
	}
	if pageCount < 1 {
		pageCount = 1
	}
	if alnum < g.MinAlnumPerPage*pageCount {
		return false
	}
	return float64(alnum)/float64(nonSpace) >= g.MinAlnumRatio
}
