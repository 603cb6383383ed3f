package queue

import "clinicq/internal/models"

// EstimateWait returns minutes until the last of waiting patients is seen.
func EstimateWait(waiting, averageProcessTime int) int {
	if waiting <= 0 {
		return 0
	}
	if averageProcessTime <= 0 {
		averageProcessTime = models.DefaultAverageProcessTime
	}
	return waiting * averageProcessTime
}
