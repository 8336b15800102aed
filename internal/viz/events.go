package viz

import (
	"github.com/rescale/ventsim/internal/events"
	"github.com/rescale/ventsim/internal/logging"
)

// EventSink mirrors display commands onto the event bus so that a remote
// viewer can follow the case.
type EventSink struct {
	eventBus *events.EventBus
	logger   *logging.Logger
}

// NewEventSink creates a sink publishing to eventBus.
func NewEventSink(eventBus *events.EventBus, logger *logging.Logger) *EventSink {
	return &EventSink{
		eventBus: eventBus,
		logger:   logging.OrNop(logger).Component("viz"),
	}
}

func proxyNames(proxies []Proxy) []string {
	names := make([]string, len(proxies))
	for i, p := range proxies {
		names[i] = p.Name
	}
	return names
}

func (s *EventSink) ShowGeometry(proxies []Proxy) error {
	s.logger.Info().Strs("proxies", proxyNames(proxies)).Msg("Showing geometry")
	s.eventBus.PublishVisualization(events.VisualizationEvent{
		Command: "showGeometry",
		Proxies: proxyNames(proxies),
	})
	return nil
}

func (s *EventSink) ShowMesh(casePath string) error {
	s.logger.Info().Str("case", casePath).Msg("Showing mesh")
	s.eventBus.PublishVisualization(events.VisualizationEvent{
		Command:  "showMesh",
		CasePath: casePath,
	})
	return nil
}

func (s *EventSink) ShowField(view FieldView) error {
	s.logger.Info().
		Str("field", view.Field).
		Str("time", view.SolutionTime).
		Float64("cut_plane", view.CutPlaneHeight).
		Msg("Showing field")
	s.eventBus.PublishVisualization(events.VisualizationEvent{
		Command:        "showField",
		Proxies:        proxyNames(view.Geometry),
		CasePath:       view.CasePath,
		Field:          view.Field,
		SolutionTime:   view.SolutionTime,
		CutPlaneHeight: view.CutPlaneHeight,
	})
	return nil
}

func (s *EventSink) UpdateCutPlane(height float64) error {
	s.logger.Debug().Float64("cut_plane", height).Msg("Cut plane moved")
	s.eventBus.PublishVisualization(events.VisualizationEvent{
		Command:        "updateCutPlane",
		CutPlaneHeight: height,
	})
	return nil
}

func (s *EventSink) Reset() error {
	s.logger.Info().Msg("Visualization reset")
	s.eventBus.PublishVisualization(events.VisualizationEvent{Command: "reset"})
	return nil
}
