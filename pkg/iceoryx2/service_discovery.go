// Copyright (c) 2024 Contributors to the Eclipse Foundation
//
// See the NOTICE file(s) distributed with this work for additional
// information regarding copyright ownership.
//
// This program and the accompanying materials are made available under the
// terms of the Apache Software License 2.0 which is available at
// https://www.apache.org/licenses/LICENSE-2.0, or the MIT license
// which is available at https://opensource.org/licenses/MIT.
//
// SPDX-License-Identifier: Apache-2.0 OR MIT

package iceoryx2

import (
	"sort"

	"github.com/iox2go/iceoryx2/internal/registry"
)

// MessagingPattern describes the communication style of a service.
type MessagingPattern int

const (
	// MessagingPatternPublishSubscribe is the publish-subscribe pattern.
	MessagingPatternPublishSubscribe MessagingPattern = iota
	// MessagingPatternEvent is the event pattern.
	MessagingPatternEvent
	// MessagingPatternRequestResponse is the request-response pattern.
	MessagingPatternRequestResponse
)

// String returns the string representation of the messaging pattern.
func (p MessagingPattern) String() string {
	switch p {
	case MessagingPatternPublishSubscribe:
		return "PublishSubscribe"
	case MessagingPatternEvent:
		return "Event"
	case MessagingPatternRequestResponse:
		return "RequestResponse"
	default:
		return "Unknown"
	}
}

func messagingPatternFromRegistry(p registry.MessagingPattern) MessagingPattern {
	switch p {
	case registry.PatternPublishSubscribe:
		return MessagingPatternPublishSubscribe
	case registry.PatternEvent:
		return MessagingPatternEvent
	default:
		return MessagingPatternRequestResponse
	}
}

// ServiceInfo contains information about a discovered service.
type ServiceInfo struct {
	// ID is the unique identifier of the service.
	ID string
	// Name is the name of the service.
	Name string
	// MessagingPattern is the messaging pattern of the service.
	MessagingPattern MessagingPattern
}

// ServiceListCallback is the callback type for service listing.
type ServiceListCallback func(info *ServiceInfo) CallbackProgression

// collectServiceInfos gathers every observable service: the in-process
// table for both scopes, plus the static-config store on disk for IPC
// services created by other processes.
func collectServiceInfos(serviceType ServiceType) ([]*ServiceInfo, error) {
	seen := make(map[string]*ServiceInfo)

	serviceTable.Lock()
	for key, state := range serviceTable.m {
		if key.serviceType != serviceType {
			continue
		}
		seen[key.name] = &ServiceInfo{
			ID:               state.cfg.ServiceID,
			Name:             key.name,
			MessagingPattern: messagingPatternFromRegistry(state.cfg.Pattern),
		}
	}
	serviceTable.Unlock()

	if serviceType == ServiceTypeIpc {
		store := &registry.Store{
			Root:   defaultConfig().RootPath(),
			Prefix: defaultConfig().Prefix(),
		}
		configs, err := store.List()
		if err != nil {
			return nil, WrapError("ListServices", ServiceListErrorInternalError)
		}
		for _, cfg := range configs {
			if _, ok := seen[cfg.Name]; ok {
				continue
			}
			seen[cfg.Name] = &ServiceInfo{
				ID:               cfg.ServiceID,
				Name:             cfg.Name,
				MessagingPattern: messagingPatternFromRegistry(cfg.Pattern),
			}
		}
	}

	out := make([]*ServiceInfo, 0, len(seen))
	for _, info := range seen {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ListServices lists all services of the given type, invoking callback for
// each until it returns CallbackProgressionStop.
func ListServices(serviceType ServiceType, callback ServiceListCallback) error {
	infos, err := collectServiceInfos(serviceType)
	if err != nil {
		return err
	}
	for _, info := range infos {
		if callback(info) == CallbackProgressionStop {
			return nil
		}
	}
	return nil
}

// ServiceExists reports whether a service with the given name and pattern
// exists.
func ServiceExists(serviceType ServiceType, serviceName *ServiceName, pattern MessagingPattern) (bool, error) {
	infos, err := collectServiceInfos(serviceType)
	if err != nil {
		return false, err
	}
	for _, info := range infos {
		if info.Name == serviceName.String() && info.MessagingPattern == pattern {
			return true, nil
		}
	}
	return false, nil
}

// GetServiceDetails returns the details of a service, or an error if it
// does not exist.
func GetServiceDetails(serviceType ServiceType, serviceName *ServiceName, pattern MessagingPattern) (*ServiceInfo, error) {
	const op = "GetServiceDetails"
	infos, err := collectServiceInfos(serviceType)
	if err != nil {
		return nil, err
	}
	for _, info := range infos {
		if info.Name == serviceName.String() && info.MessagingPattern == pattern {
			return info, nil
		}
	}
	return nil, WrapError(op, ServiceDetailsErrorFailedToOpenStaticServiceInfo)
}

// ServiceDiscovery provides a scoped view over service discovery
// operations.
type ServiceDiscovery struct {
	serviceType ServiceType
}

// NewServiceDiscovery creates a ServiceDiscovery for the given service type.
func NewServiceDiscovery(serviceType ServiceType) *ServiceDiscovery {
	return &ServiceDiscovery{serviceType: serviceType}
}

// Exists reports whether the service exists.
func (sd *ServiceDiscovery) Exists(serviceName *ServiceName, pattern MessagingPattern) (bool, error) {
	return ServiceExists(sd.serviceType, serviceName, pattern)
}

// Details returns the service's discovery information.
func (sd *ServiceDiscovery) Details(serviceName *ServiceName, pattern MessagingPattern) (*ServiceInfo, error) {
	return GetServiceDetails(sd.serviceType, serviceName, pattern)
}

// FindPubSubService finds a publish-subscribe service by name.
func (sd *ServiceDiscovery) FindPubSubService(name string) (*ServiceInfo, error) {
	serviceName, err := NewServiceName(name)
	if err != nil {
		return nil, err
	}
	defer serviceName.Close()
	return sd.Details(serviceName, MessagingPatternPublishSubscribe)
}

// FindEventService finds an event service by name.
func (sd *ServiceDiscovery) FindEventService(name string) (*ServiceInfo, error) {
	serviceName, err := NewServiceName(name)
	if err != nil {
		return nil, err
	}
	defer serviceName.Close()
	return sd.Details(serviceName, MessagingPatternEvent)
}

// FindRequestResponseService finds a request-response service by name.
func (sd *ServiceDiscovery) FindRequestResponseService(name string) (*ServiceInfo, error) {
	serviceName, err := NewServiceName(name)
	if err != nil {
		return nil, err
	}
	defer serviceName.Close()
	return sd.Details(serviceName, MessagingPatternRequestResponse)
}

// CollectServices returns every observable service of the given type.
func CollectServices(serviceType ServiceType) ([]*ServiceInfo, error) {
	return collectServiceInfos(serviceType)
}

// GlobalConfig returns the built-in global configuration.
func GlobalConfig() *Config {
	return defaultConfig()
}
