package services

import (
	"time"

	"hermes-chat-api/pkg/models"
)

func day(d int) time.Time {
	return time.Date(2025, time.June, d, 0, 0, 0, 0, time.UTC)
}

func rec(id, route, warehouse string, delivery, delay float64, reason string, d int) models.ShipmentRecord {
	if reason == "" {
		reason = models.NoDelayReason
	}
	return models.ShipmentRecord{
		ID:           id,
		Route:        route,
		Warehouse:    warehouse,
		DeliveryTime: delivery,
		DelayMinutes: delay,
		DelayReason:  reason,
		Date:         day(d),
	}
}

// Three routes with clearly separated delay profiles.
func routeFixture() []models.ShipmentRecord {
	return []models.ShipmentRecord{
		rec("A1", "A", "W1", 2.0, 100, "Weather", 1),
		rec("A2", "A", "W1", 2.2, 60, "Traffic", 2),
		rec("B1", "B", "W1", 1.5, 30, "Traffic", 1),
		rec("B2", "B", "W2", 1.5, 0, "", 2),
		rec("C1", "C", "W2", 1.0, 0, "", 1),
		rec("C2", "C", "W2", 1.2, 0, "", 2),
	}
}

// Twenty shipments: Weather x3, Traffic x4, Mechanical x1 delayed plus
// twelve on-time rows.
func reasonFixture() []models.ShipmentRecord {
	records := []models.ShipmentRecord{
		rec("W1", "A", "W1", 2.0, 120, "Weather", 1),
		rec("W2", "A", "W1", 2.0, 90, "Weather", 2),
		rec("W3", "B", "W2", 1.5, 60, "Weather", 3),
		rec("T1", "A", "W1", 2.0, 30, "Traffic", 1),
		rec("T2", "B", "W1", 1.5, 40, "Traffic", 2),
		rec("T3", "B", "W2", 1.5, 20, "Traffic", 3),
		rec("T4", "C", "W2", 1.0, 30, "Traffic", 4),
		rec("M1", "C", "W2", 1.0, 75, "Mechanical", 4),
	}
	for i := 0; i < 12; i++ {
		records = append(records, rec("O"+string(rune('A'+i)), "C", "W2", 1.0, 0, "", 1+i%4))
	}
	return records
}

// One shipment per day with delay growing 10 minutes a day.
func trendFixture() []models.ShipmentRecord {
	var records []models.ShipmentRecord
	for i := 1; i <= 5; i++ {
		records = append(records, rec("D"+string(rune('0'+i)), "R", "W", 2.0, float64(i)*10, "Traffic", i))
	}
	return records
}
