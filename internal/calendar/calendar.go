package calendar

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// Час отсечки: пятница 17:00 по кухонному времени, сутки до субботы доставки.
const cutoffHour = 17

// За сколько шагов по дням обязаны найти ближайшую субботу.
// Страховка от бесконечного сканирования, реально хватает семи.
const maxDayScan = 30

const weekLayout = "2006-01-02"

// Engine считает недели доставки и отсечки в одной фиксированной таймзоне —
// таймзоне кухни. Зона задаётся при создании, глобальной константы нет,
// чтобы тесты могли гонять другие зоны.
type Engine struct {
	tz  string
	loc *time.Location
}

func NewEngine(tz string) (*Engine, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, errors.Wrapf(err, "load kitchen time zone %q", tz)
	}
	return &Engine{tz: tz, loc: loc}, nil
}

func (e *Engine) TimeZone() string { return e.tz }

// Week — календарная дата субботы доставки в кухонной таймзоне.
// Без компонента времени; неделя тут — выходные доставки, не ISO-неделя.
type Week struct {
	Year  int
	Month time.Month
	Day   int
}

func (w Week) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", w.Year, int(w.Month), w.Day)
}

// ParseWeek разбирает "2006-01-02" и проверяет, что дата — суббота
// в кухонной таймзоне.
func (e *Engine) ParseWeek(s string) (Week, error) {
	t, err := time.ParseInLocation(weekLayout, s, e.loc)
	if err != nil {
		return Week{}, errors.Wrapf(err, "parse delivery week %q", s)
	}
	if t.Weekday() != time.Saturday {
		return Week{}, errors.Errorf("delivery week %q is not a Saturday in %s", s, e.tz)
	}
	return Week{Year: t.Year(), Month: t.Month(), Day: t.Day()}, nil
}

// UpcomingWeeks возвращает count ближайших суббот (включая "сегодня",
// если from — суббота по кухонному времени), строго через 7 дней друг
// от друга. День недели определяем только в кухонной зоне — локальная зона
// хоста может давать другую дату.
func (e *Engine) UpcomingWeeks(count int, from time.Time) []Week {
	weeks := make([]Week, 0, count)
	cur := from.In(e.loc)
	cur = time.Date(cur.Year(), cur.Month(), cur.Day(), 0, 0, 0, 0, e.loc)

	for len(weeks) < count {
		found := false
		for step := 0; step < maxDayScan; step++ {
			if cur.Weekday() == time.Saturday {
				weeks = append(weeks, Week{Year: cur.Year(), Month: cur.Month(), Day: cur.Day()})
				cur = cur.AddDate(0, 0, 1)
				found = true
				break
			}
			cur = cur.AddDate(0, 0, 1)
		}
		if !found {
			break
		}
	}
	return weeks
}

// Cutoff — UTC-инстант пятницы 17:00 кухонного времени перед субботой w.
// time.Date нормализует Day-1 и применяет правила зоны на конкретный момент,
// так что переходы на летнее время дают ровно 17:00 по стенным часам.
func (e *Engine) Cutoff(w Week) time.Time {
	fri := time.Date(w.Year, w.Month, w.Day-1, cutoffHour, 0, 0, 0, e.loc)
	return fri.UTC()
}

func (e *Engine) IsPastCutoff(w Week, now time.Time) bool {
	return now.After(e.Cutoff(w))
}

// Parts — компоненты момента времени, как они наблюдаются в некоторой зоне.
// Минутная точность: этого достаточно для расписаний.
type Parts struct {
	Year   int
	Month  time.Month
	Day    int
	Hour   int
	Minute int
}

// PartsIn раскладывает абсолютный момент на компоненты в произвольной IANA-зоне.
func PartsIn(t time.Time, tz string) (Parts, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return Parts{}, errors.Wrapf(err, "load time zone %q", tz)
	}
	lt := t.In(loc)
	return Parts{
		Year:   lt.Year(),
		Month:  lt.Month(),
		Day:    lt.Day(),
		Hour:   lt.Hour(),
		Minute: lt.Minute(),
	}, nil
}

// Instant собирает абсолютный момент обратно из компонентов в зоне tz.
// Обратная операция к PartsIn с точностью до минуты.
func (p Parts) Instant(tz string) (time.Time, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "load time zone %q", tz)
	}
	return time.Date(p.Year, p.Month, p.Day, p.Hour, p.Minute, 0, 0, loc).UTC(), nil
}
