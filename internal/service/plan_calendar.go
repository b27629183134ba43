package service

import (
	"encoding/json"
	"skillchain_backend/internal/model"
	"skillchain_backend/internal/util"
	"skillchain_backend/pkg/logger"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
)

const daysPerWeek = 7

// slotHours 各时间段类别的默认开始小时
func slotHours(timeOfDay string) []int {
	switch timeOfDay {
	case model.TimeOfDayRoutine:
		return []int{8, 13}
	case model.TimeOfDayWeekend:
		return []int{10, 15}
	}
	return []int{9, 14, 19}
}

// dayCalendar 学习者可学习的星期集合，空集合表示每天都可以
type dayCalendar map[time.Weekday]bool

func parseAvailableDays(raw datatypes.JSON) dayCalendar {
	cal := dayCalendar{}
	if len(raw) == 0 {
		return cal
	}
	var names []string
	if err := json.Unmarshal(raw, &names); err != nil {
		logger.Log.Warn("Invalid available days, treating every day as available", zap.Error(err))
		return cal
	}
	for _, name := range names {
		d, err := util.ParseWeekday(name)
		if err != nil {
			logger.Log.Warn("Ignoring unknown weekday", zap.String("day", name))
			continue
		}
		cal[d] = true
	}
	return cal
}

func (c dayCalendar) allows(d time.Weekday) bool {
	return len(c) == 0 || c[d]
}

// next t 之后第一个可学习的日子，保持时刻不变
func (c dayCalendar) next(t time.Time) time.Time {
	for i := 1; i <= daysPerWeek; i++ {
		candidate := t.AddDate(0, 0, i)
		if c.allows(candidate.Weekday()) {
			return candidate
		}
	}
	return t.AddDate(0, 0, 1)
}

// window 从 start 起 7 天中可学习的日子（零点）
func (c dayCalendar) window(start time.Time) []time.Time {
	var days []time.Time
	for i := 0; i < daysPerWeek; i++ {
		d := start.AddDate(0, 0, i)
		if c.allows(d.Weekday()) {
			days = append(days, d)
		}
	}
	return days
}

func atHour(day time.Time, hour int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), hour, 0, 0, 0, day.Location())
}

func detailsJSON(v interface{}) datatypes.JSON {
	raw, err := json.Marshal(v)
	if err != nil {
		return datatypes.JSON("{}")
	}
	return datatypes.JSON(raw)
}
