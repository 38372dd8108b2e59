package etas

import "time"

// Поправки на время обслуживания остановки: в часы пик и по субботам
// курьер возится дольше (парковка, подъезды, очереди у дверей), ночью и
// в воскресенье быстрее. Множители применяются только к dwell, не ко
// времени в пути — пробки уже учтены провайдером матрицы.

func timeOfDayFactor(hour int) float64 {
	switch {
	case hour >= 6 && hour < 9:
		return 1.2
	case hour >= 9 && hour < 11:
		return 0.9
	case hour >= 17 && hour < 20:
		return 1.3
	case hour < 6:
		return 0.8
	default:
		return 1.0
	}
}

func dayOfWeekFactor(d time.Weekday) float64 {
	switch d {
	case time.Saturday:
		return 1.1
	case time.Sunday:
		return 0.9
	default:
		return 1.0
	}
}

// stopSeconds — время обслуживания одной остановки в секундах с учётом
// поправок на момент t в локальной зоне кухни.
func (e *Estimator) stopSeconds(t time.Time) float64 {
	secs := e.stopMinutes * 60
	if !e.timeFactors {
		return secs
	}
	lt := t.In(e.loc)
	return secs * timeOfDayFactor(lt.Hour()) * dayOfWeekFactor(lt.Weekday())
}
