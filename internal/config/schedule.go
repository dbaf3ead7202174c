package config

import "github.com/robfig/cron/v3"

func validateSchedule(spec string) error {
	_, err := cron.ParseStandard(spec)
	return err
}
