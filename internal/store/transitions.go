package store

import "clinicq/internal/models"

var transitionMap = map[string][]string{
	models.StatusServed:    {models.StatusWaiting},
	models.StatusMissed:    {models.StatusWaiting},
	models.StatusCancelled: {models.StatusWaiting},
}

func ValidTransition(toStatus, fromStatus string) bool {
	allowed, ok := transitionMap[toStatus]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == fromStatus {
			return true
		}
	}
	return false
}
