package optimize

import "encoding/json"

type cachedTrial struct {
	Metrics map[string]float64 `json:"metrics"`
	Score   float64            `json:"score"`
}

func encodeCachedTrial(metrics map[string]float64, score float64) string {
	data, _ := json.Marshal(cachedTrial{Metrics: metrics, Score: score})
	return string(data)
}

func decodeCachedTrial(raw string) (map[string]float64, float64, bool) {
	var ct cachedTrial
	if err := json.Unmarshal([]byte(raw), &ct); err != nil {
		return nil, 0, false
	}
	return ct.Metrics, ct.Score, true
}
