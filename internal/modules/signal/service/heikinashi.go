package service

import (
	"paper_bot/internal/models"
)

// MinCandles is the floor for any trend call; below it the engine holds.
const MinCandles = 3

type HABar struct {
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Direction models.Direction
}

// ComputeHeikinAshi transforms raw bars into Heikin-Ashi bars. Pure, straight
// IEEE-754 arithmetic, no rounding: identical input gives identical output.
//
//	haClose[i] = (o+h+l+c)/4
//	haOpen[0]  = (o+c)/2
//	haOpen[i]  = (haOpen[i-1]+haClose[i-1])/2
func ComputeHeikinAshi(candles []models.Candle) []HABar {
	if len(candles) == 0 {
		return nil
	}

	out := make([]HABar, len(candles))
	for i, c := range candles {
		haClose := (c.Open + c.High + c.Low + c.Close) / 4

		var haOpen float64
		if i == 0 {
			haOpen = (c.Open + c.Close) / 2
		} else {
			haOpen = (out[i-1].Open + out[i-1].Close) / 2
		}

		bar := HABar{
			Open:  haOpen,
			High:  max3(c.High, haOpen, haClose),
			Low:   min3(c.Low, haOpen, haClose),
			Close: haClose,
		}
		switch {
		case haClose > haOpen:
			bar.Direction = models.DirUp
		case haClose < haOpen:
			bar.Direction = models.DirDown
		default:
			bar.Direction = models.DirFlat
		}
		out[i] = bar
	}
	return out
}

// Directions maps HA bars to their per-bar trend directions, oldest first.
func Directions(bars []HABar) []models.Direction {
	dirs := make([]models.Direction, len(bars))
	for i, b := range bars {
		dirs[i] = b.Direction
	}
	return dirs
}

func max3(a, b, c float64) float64 {
	m := a
	if b > m {
		m = b
	}
	if c > m {
		m = c
	}
	return m
}

func min3(a, b, c float64) float64 {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}
