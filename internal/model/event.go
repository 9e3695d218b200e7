package model

type Region struct {
	T    int64   `json:"t"`
	TSec float64 `json:"t_sec"`
	X1   float64 `json:"x1"`
	Y1   float64 `json:"y1"`
	X2   float64 `json:"x2"`
	Y2   float64 `json:"y2"`
}

type Event struct {
	GroupId int32    `json:"group_id"`
	ClassId int32    `json:"class_id"`
	Score   float64  `json:"score"`
	T1      int64    `json:"t1"`
	T2      int64    `json:"t2"`
	T1Sec   float64  `json:"t1_sec"`
	T2Sec   float64  `json:"t2_sec"`
	Regions []Region `json:"regions,omitempty"`
}

func (e *Event) Duration() float64 {
	return e.T2Sec - e.T1Sec
}

type VideoEvents struct {
	DatasetId string  `json:"dataset_id"`
	TaskId    string  `json:"task_id"`
	VideoId   string  `json:"video_id"`
	Events    []Event `json:"events"`
}

type VideoMetadata struct {
	DatasetId       string          `json:"dataset_id"`
	TaskId          string          `json:"task_id"`
	VideoId         string          `json:"video_id"`
	ClassOccurrence map[int32]int64 `json:"class_occurrence"`
}
