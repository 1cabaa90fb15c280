package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// cronParser accepts the standard five-field cron syntax.
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// Validate checks a share-pack configuration for structural and semantic
// errors. It returns every problem found, one message per error, so the
// caller can surface the full list at submission time.
func Validate(cfg *SharePackConfig) []string {
	errs := []string{}

	if err := validate.Struct(cfg); err != nil {
		verrs, ok := err.(validator.ValidationErrors)
		if !ok {
			return []string{err.Error()}
		}
		for _, ve := range verrs {
			errs = append(errs, fmt.Sprintf("field %s failed %q validation", ve.Namespace(), ve.Tag()))
		}
	}

	if cfg.Strategy != "" && !Strategy(cfg.Strategy).Validate() {
		errs = append(errs, fmt.Sprintf("unknown strategy %q", cfg.Strategy))
	}

	recipientNames := map[string]bool{}
	for _, r := range cfg.Recipients {
		if recipientNames[r.Name] {
			errs = append(errs, fmt.Sprintf("recipient %q declared more than once", r.Name))
		}
		recipientNames[r.Name] = true

		// The two recipient shapes are mutually exclusive.
		switch r.Type {
		case RecipientTypeDatabricks:
			if r.SharingIdentifier == "" {
				errs = append(errs, fmt.Sprintf("recipient %q: databricks recipients require a sharing_identifier", r.Name))
			}
			if r.TokenExpirySeconds != 0 || len(r.IPAccessList) > 0 {
				errs = append(errs, fmt.Sprintf("recipient %q: token policy fields are only valid for token recipients", r.Name))
			}
		case RecipientTypeToken:
			if r.SharingIdentifier != "" {
				errs = append(errs, fmt.Sprintf("recipient %q: sharing_identifier is only valid for databricks recipients", r.Name))
			}
		}
	}

	shareNames := map[string]bool{}
	shareAssets := map[string]map[string]bool{}
	for _, s := range cfg.Shares {
		if shareNames[s.Name] {
			errs = append(errs, fmt.Sprintf("share %q declared more than once", s.Name))
		}
		shareNames[s.Name] = true

		assets := map[string]bool{}
		for _, a := range s.Assets {
			assets[a] = true
		}
		shareAssets[s.Name] = assets

		for _, rn := range s.Recipients {
			if !recipientNames[rn] {
				errs = append(errs, fmt.Sprintf("share %q references undeclared recipient %q", s.Name, rn))
			}
		}
	}

	pipelineNames := map[string]bool{}
	for _, p := range cfg.Pipelines {
		key := p.Share + "/" + p.Name
		if pipelineNames[key] {
			errs = append(errs, fmt.Sprintf("pipeline %q declared more than once in share %q", p.Name, p.Share))
		}
		pipelineNames[key] = true

		assets, ok := shareAssets[p.Share]
		if !ok {
			errs = append(errs, fmt.Sprintf("pipeline %q references undeclared share %q", p.Name, p.Share))
		} else if !assets[p.SourceTable] {
			errs = append(errs, fmt.Sprintf("pipeline %q: source_table %q is not an asset of share %q", p.Name, p.SourceTable, p.Share))
		}

		errs = append(errs, validateSchedule(p)...)
	}

	return errs
}

func validateSchedule(p PipelineConfig) []string {
	errs := []string{}

	if p.Schedule.Continuous {
		if p.Schedule.Cron != "" {
			errs = append(errs, fmt.Sprintf("pipeline %q: schedule is either continuous or cron, not both", p.Name))
		}
		return errs
	}

	if p.Schedule.Cron == "" {
		errs = append(errs, fmt.Sprintf("pipeline %q: schedule requires a cron expression or continuous mode", p.Name))
		return errs
	}

	if _, err := cronParser.Parse(p.Schedule.Cron); err != nil {
		errs = append(errs, fmt.Sprintf("pipeline %q: invalid cron expression %q: %v", p.Name, p.Schedule.Cron, err))
	}

	if p.Schedule.Timezone != "" {
		if _, err := time.LoadLocation(p.Schedule.Timezone); err != nil {
			errs = append(errs, fmt.Sprintf("pipeline %q: unknown timezone %q", p.Name, p.Schedule.Timezone))
		}
	}

	return errs
}
