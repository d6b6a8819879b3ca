package model

// QuestType is the condition a quest tracks.
type QuestType string

const (
	QuestNoDistractions QuestType = "no_distractions"
	QuestNoTalking      QuestType = "no_talking"
	QuestMinDuration    QuestType = "min_duration"
)

// Valid reports whether t is one of the known quest types.
func (t QuestType) Valid() bool {
	switch t {
	case QuestNoDistractions, QuestNoTalking, QuestMinDuration:
		return true
	}
	return false
}

// Quest is one quest offered to or accepted by the player. The JSON shape
// is the one the quest-content collaborator returns.
type Quest struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	RewardGold    float64   `json:"reward_gold"`
	RewardXP      float64   `json:"reward_xp"`
	Type          QuestType `json:"type"`
	Target        float64   `json:"target,omitempty"`
	TargetMinutes float64   `json:"target_minutes"`
}

// TargetSeconds is the clean-focus time needed to complete the quest.
func (q Quest) TargetSeconds() float64 {
	return q.TargetMinutes * 60
}

// QuestRequest is the body sent to the quest-content collaborator.
type QuestRequest struct {
	Duration         int  `json:"duration"`
	DistractionCount int  `json:"distractionCount"`
	WasTalking       bool `json:"wasTalking"`
}
