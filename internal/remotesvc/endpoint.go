// Package remotesvc holds the remote-services endpoint records spec.md
// §3 names "because listeners traverse them" while scoping their
// transport (XML-RPC/JSON-RPC/MQTT/Jabsorb) out of the core. These are
// data-only: no marshaling, no network I/O.
package remotesvc

import "github.com/google/uuid"

// ExportEndpoint describes a local service published for remote access
// (local -> wire). Identified by a UUID-4 plus the owning framework's
// UUID, it carries the specifications the remote end can invoke, the
// configuration types describing the wire encoding, and a property map
// that mirrors the originating ServiceReference's properties (spec §3
// "Endpoint records").
type ExportEndpoint struct {
	ID                uuid.UUID
	FrameworkUUID     uuid.UUID
	ServiceID         int64
	Specifications    []string
	ConfigurationTypes []string
	Properties        map[string]interface{}
}

// NewExportEndpoint constructs an ExportEndpoint with a freshly minted
// identity.
func NewExportEndpoint(frameworkUUID uuid.UUID, serviceID int64, specs, configTypes []string, props map[string]interface{}) ExportEndpoint {
	return ExportEndpoint{
		ID:                 uuid.New(),
		FrameworkUUID:      frameworkUUID,
		ServiceID:          serviceID,
		Specifications:     append([]string(nil), specs...),
		ConfigurationTypes: append([]string(nil), configTypes...),
		Properties:         clone(props),
	}
}

// ImportEndpoint describes a remote service discovered and represented
// locally by a proxy (wire -> proxy). Carries the same identity shape as
// ExportEndpoint plus the originating framework's UUID, so the local
// registry can distinguish two imports of logically-identical remote
// endpoints that happen to share a specification list.
type ImportEndpoint struct {
	ID                 uuid.UUID
	SourceFrameworkUUID uuid.UUID
	Specifications     []string
	ConfigurationTypes []string
	Properties         map[string]interface{}
}

// NewImportEndpoint constructs an ImportEndpoint from a decoded
// EndpointDescription.
func NewImportEndpoint(desc EndpointDescription) ImportEndpoint {
	return ImportEndpoint{
		ID:                  desc.ID,
		SourceFrameworkUUID: desc.FrameworkUUID,
		Specifications:      append([]string(nil), desc.Specifications...),
		ConfigurationTypes:  append([]string(nil), desc.ConfigurationTypes...),
		Properties:          clone(desc.Properties),
	}
}

// EndpointDescription is the language-neutral encoding of an endpoint
// exchanged between frameworks (spec §3). It carries the same fields as
// ExportEndpoint/ImportEndpoint without committing to either side's
// in-process representation, and without any encode/decode logic — that
// belongs to the transport collaborator spec.md scopes out.
type EndpointDescription struct {
	ID                 uuid.UUID
	FrameworkUUID      uuid.UUID
	Specifications     []string
	ConfigurationTypes []string
	Properties         map[string]interface{}
}

// DescriptionOf converts an ExportEndpoint into the wire-neutral
// EndpointDescription a transport collaborator would serialize.
func DescriptionOf(e ExportEndpoint) EndpointDescription {
	return EndpointDescription{
		ID:                 e.ID,
		FrameworkUUID:      e.FrameworkUUID,
		Specifications:     append([]string(nil), e.Specifications...),
		ConfigurationTypes: append([]string(nil), e.ConfigurationTypes...),
		Properties:         clone(e.Properties),
	}
}

func clone(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Reserved remote-service property key prefixes (spec §6 "remote-service
// prefixes ... used when the remote-services collaborator is loaded; the
// core merely stores them").
const (
	PropPrefixServiceExported = "service.exported."
	PropPrefixServiceImported = "service.imported."
	PropPrefixEndpoint        = "endpoint."
)
