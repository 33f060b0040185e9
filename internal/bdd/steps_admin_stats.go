package bdd

import (
	"context"
	"fmt"
	"strings"

	"github.com/chirino/spacechat/internal/testutil/cucumber"
	"github.com/cucumber/godog"
)

func init() {
	cucumber.StepModules = append(cucumber.StepModules, func(ctx *godog.ScenarioContext, s *cucumber.TestScenario) {
		a := &adminStatsSteps{s: s}
		ctx.Step(`^Prometheus is unavailable$`, a.prometheusIsUnavailable)
		ctx.Step(`^Prometheus is available$`, a.prometheusIsAvailable)
		ctx.Step(`^the response should be a time series with metric "([^"]*)" and unit "([^"]*)"$`, a.theResponseShouldBeATimeSeries)
		ctx.Step(`^the response time series data should have at least (\d+) points?$`, a.theResponseTimeSeriesDataShouldHaveAtLeastPoints)
		ctx.Step(`^the response should be a multi-series labeled "([^"]*)"$`, a.theResponseShouldBeAMultiSeries)

		ctx.Before(func(ctx2 context.Context, sc *godog.Scenario) (context.Context, error) {
			if mp := a.mockProm(); mp != nil {
				mp.SetAvailable(true)
			}
			return ctx2, nil
		})
	})
}

type adminStatsSteps struct {
	s *cucumber.TestScenario
}

func (a *adminStatsSteps) mockProm() *MockPrometheus {
	if mp, ok := a.s.Suite.Extra["mockPrometheus"]; ok {
		return mp.(*MockPrometheus)
	}
	return nil
}

func (a *adminStatsSteps) prometheusIsUnavailable() error {
	if mp := a.mockProm(); mp != nil {
		mp.SetAvailable(false)
	}
	return nil
}

func (a *adminStatsSteps) prometheusIsAvailable() error {
	if mp := a.mockProm(); mp != nil {
		mp.SetAvailable(true)
	}
	return nil
}

func (a *adminStatsSteps) response() (map[string]interface{}, error) {
	doc, err := a.s.Session().RespJSON()
	if err != nil {
		return nil, err
	}
	obj, ok := doc.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("response is not a json object: %s", string(a.s.Session().RespBytes))
	}
	return obj, nil
}

func (a *adminStatsSteps) theResponseShouldBeATimeSeries(metric, unit string) error {
	obj, err := a.response()
	if err != nil {
		return err
	}
	if got := fmt.Sprintf("%v", obj["metric"]); got != metric {
		return fmt.Errorf("expected time series metric '%s', got '%s'", metric, got)
	}
	if got := fmt.Sprintf("%v", obj["unit"]); got != unit {
		return fmt.Errorf("expected time series unit '%s', got '%s'", unit, got)
	}
	return nil
}

func (a *adminStatsSteps) theResponseTimeSeriesDataShouldHaveAtLeastPoints(minCount int) error {
	obj, err := a.response()
	if err != nil {
		return err
	}
	arr, ok := obj["data"].([]interface{})
	if !ok {
		return fmt.Errorf("response 'data' is not an array. Response: %s", string(a.s.Session().RespBytes))
	}
	if len(arr) < minCount {
		return fmt.Errorf("expected at least %d data points, got %d", minCount, len(arr))
	}
	return nil
}

func (a *adminStatsSteps) theResponseShouldBeAMultiSeries(labels string) error {
	obj, err := a.response()
	if err != nil {
		return err
	}
	series, ok := obj["series"].([]interface{})
	if !ok {
		return fmt.Errorf("response 'series' is not an array. Response: %s", string(a.s.Session().RespBytes))
	}
	var got []string
	for _, item := range series {
		entry, _ := item.(map[string]interface{})
		got = append(got, fmt.Sprintf("%v", entry["label"]))
	}
	if strings.Join(got, ",") != labels {
		return fmt.Errorf("expected series labeled %s, got %s", labels, strings.Join(got, ","))
	}
	return nil
}
