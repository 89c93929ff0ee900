package domain

// EventKind - вид инициирующего события
type EventKind string

const (
	EventHurricane   EventKind = "hurricane"
	EventEarthquake  EventKind = "earthquake"
	EventFlood       EventKind = "flood"
	EventCyberattack EventKind = "cyberattack"
	EventPowerOutage EventKind = "power_outage"
	EventOther       EventKind = "other"
)

// Valid проверяет, известен ли вид события
func (k EventKind) Valid() bool {
	switch k {
	case EventHurricane, EventEarthquake, EventFlood,
		EventCyberattack, EventPowerOutage, EventOther:
		return true
	}
	return false
}

// String возвращает строковое представление
func (k EventKind) String() string {
	return string(k)
}

// Environment - погодные условия, модулирующие распространение отказов
type Environment struct {
	TemperatureC    float64 `json:"temperature_c"`
	WindSpeedKmh    float64 `json:"wind_speed_kmh"`
	PrecipitationMM float64 `json:"precipitation_mm"`
}

// Event - инициирующее событие симуляции
type Event struct {
	Kind            EventKind    `json:"kind"`
	Severity        float64      `json:"severity"` // [0, 1]
	Environment     *Environment `json:"environment,omitempty"`
	InitialFailures []NodeID     `json:"initial_failures,omitempty"`
}
