package muxconfig

import "testing"

import (
	"github.com/stretchr/testify/assert"
)

func validConfig() Config {
	return Config{
		Sources: []SourceConfig{
			{Name: "a", Transport: TransportUDP, Address: "127.0.0.1:5000"},
			{Name: "b", Transport: TransportFIFO, Path: "/tmp/fallback.ts"},
		},
		BufferCapacity: 1500,
		Sink:           SinkConfig{Kind: "pipe", Path: "/tmp/out.ts"},
	}
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidateRejectsFewerThanTwoSources(t *testing.T) {
	c := validConfig()
	c.Sources = c.Sources[:1]
	err := c.Validate()
	assert.Error(t, err)
	var ce ConfigError
	assert.ErrorAs(t, err, &ce)
	assert.Equal(t, "sources", ce.Field)
}

func TestValidateRejectsMissingTransportAddress(t *testing.T) {
	c := validConfig()
	c.Sources[0].Address = ""
	assert.Error(t, c.Validate())
}

func TestValidateRejectsUnknownSinkKind(t *testing.T) {
	c := validConfig()
	c.Sink.Kind = "rtmp"
	assert.Error(t, c.Validate())
}
