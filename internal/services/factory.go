package services

import (
	"github.com/dpup/convoy-nav/server/internal/lib/directions"
	"github.com/dpup/convoy-nav/server/internal/lib/navigation"
	"github.com/dpup/convoy-nav/server/internal/lib/telemetry"
)

// Factory builds guidance services that share routing and telemetry backends
type Factory struct {
	Gateway        directions.Gateway
	InitialGateway directions.Gateway
	Telemetry      telemetry.Sink
	Options        Options
}

// New creates an idle service for one driver's device
func (f *Factory) New(source navigation.LocationSource, listener Listener, missionID, driverID string) *GuidanceService {
	opts := f.Options
	opts.MissionID = missionID
	opts.DriverID = driverID

	return NewGuidanceService(Dependencies{
		Source:         source,
		Gateway:        f.Gateway,
		InitialGateway: f.InitialGateway,
		Telemetry:      f.Telemetry,
		Listener:       listener,
	}, opts)
}
