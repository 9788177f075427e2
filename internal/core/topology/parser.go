package topology

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/compose-spec/compose-go/v2/loader"
	"github.com/compose-spec/compose-go/v2/types"
	"gopkg.in/yaml.v3"

	"github.com/drydock-sh/drydock/internal/core/graph"
)

// =============================================================================
// Parser Functions
// =============================================================================

// Parse parses a compose-style topology YAML into a Spec.
// This is a pure function - no I/O, no side effects.
// Services come out in declaration order so that later ordering decisions
// (topological tie-breaks) are stable across runs.
func Parse(yamlContent string) (*Spec, error) {
	if strings.TrimSpace(yamlContent) == "" {
		return nil, ErrEmptyInput
	}

	declared, err := declarationOrder(yamlContent)
	if err != nil {
		return nil, err
	}

	project, err := loadTopology(yamlContent, declared)
	if err != nil {
		return nil, err
	}

	if err := checkUnsupportedFeatures(project); err != nil {
		return nil, err
	}

	if len(project.Services) == 0 {
		return nil, ErrNoServices
	}

	spec := &Spec{
		Services: make([]Service, 0, len(project.Services)),
		Networks: make([]Network, 0, len(project.Networks)),
		Volumes:  make([]Volume, 0, len(project.Volumes)),
	}

	for _, svc := range project.Services {
		converted, err := convertService(svc)
		if err != nil {
			return nil, err
		}
		spec.Services = append(spec.Services, converted)
	}
	sortByDeclaration(spec.Services, declared)

	if err := validateDependencies(spec.Services); err != nil {
		return nil, err
	}
	if err := validatePorts(spec.Services); err != nil {
		return nil, err
	}

	for name, net := range project.Networks {
		spec.Networks = append(spec.Networks, convertNetwork(name, net))
	}
	sort.Slice(spec.Networks, func(i, j int) bool { return spec.Networks[i].Name < spec.Networks[j].Name })

	for name, vol := range project.Volumes {
		spec.Volumes = append(spec.Volumes, convertVolume(name, vol))
	}
	sort.Slice(spec.Volumes, func(i, j int) bool { return spec.Volumes[i].Name < spec.Volumes[j].Name })

	return spec, nil
}

// declarationOrder extracts the order in which services appear in the YAML
// document. compose-go hands services back as a map, which loses the order
// the author wrote them in.
func declarationOrder(yamlContent string) ([]string, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(yamlContent), &doc); err != nil {
		return nil, NewParseError("", "invalid YAML syntax", ErrInvalidYAML)
	}
	if len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, NewParseError("", "invalid YAML syntax", ErrInvalidYAML)
	}

	root := doc.Content[0]
	var order []string
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value != "services" {
			continue
		}
		services := root.Content[i+1]
		if services.Kind != yaml.MappingNode {
			return nil, NewParseError("services", "services must be a mapping", ErrInvalidYAML)
		}
		for j := 0; j+1 < len(services.Content); j += 2 {
			order = append(order, services.Content[j].Value)
		}
	}
	return order, nil
}

// loadTopology loads a topology using compose-go.
func loadTopology(yamlContent string, declared []string) (*types.Project, error) {
	var dict map[string]interface{}
	if err := yaml.Unmarshal([]byte(yamlContent), &dict); err != nil {
		return nil, NewParseError("", "invalid YAML syntax", ErrInvalidYAML)
	}
	if dict == nil {
		return nil, NewParseError("", "invalid YAML syntax", ErrInvalidYAML)
	}

	project, err := loader.LoadWithContext(context.Background(), types.ConfigDetails{
		ConfigFiles: []types.ConfigFile{
			{
				Content: []byte(yamlContent),
				Config:  dict,
			},
		},
	}, func(opts *loader.Options) {
		opts.SetProjectName("drydock-parse", false)
		opts.SkipValidation = false
		opts.SkipInterpolation = true // placeholders are resolved by the env resolver, not the loader
		opts.SkipNormalization = true
		opts.SkipExtends = true
	})
	if err != nil {
		errStr := err.Error()
		if strings.Contains(errStr, "dependency cycle detected") {
			return nil, cyclicDeclarationError(dict, declared)
		}
		if strings.Contains(errStr, "depends on undefined service") {
			return nil, NewParseError("", errStr, ErrUnknownDependency)
		}
		if strings.Contains(errStr, "image") && strings.Contains(errStr, "build") {
			return nil, NewParseError("", "service must have image or build", ErrServiceNoImage)
		}
		return nil, NewParseError("", errStr, ErrInvalidYAML)
	}

	return project, nil
}

// cyclicDeclarationError reconstructs the dependency edges from the raw YAML
// dict and names the cycle members. compose-go reports the cycle before we
// ever get a Project back, so we cannot lean on converted services here.
func cyclicDeclarationError(dict map[string]interface{}, declared []string) error {
	deps := make(map[string][]string)
	services, _ := dict["services"].(map[string]interface{})
	for name, raw := range services {
		svc, _ := raw.(map[string]interface{})
		if svc == nil {
			continue
		}
		switch d := svc["depends_on"].(type) {
		case []interface{}:
			for _, v := range d {
				if s, ok := v.(string); ok {
					deps[name] = append(deps[name], s)
				}
			}
		case map[string]interface{}:
			for dep := range d {
				deps[name] = append(deps[name], dep)
			}
		}
	}

	members := graph.FindCycle(deps, declared)
	return &graph.CyclicDependencyError{Members: members}
}

// checkUnsupportedFeatures checks for compose features outside the topology contract.
func checkUnsupportedFeatures(project *types.Project) error {
	if len(project.Secrets) > 0 {
		return NewParseError("secrets", "compose secrets are not supported; use secret:// environment references", ErrUnsupportedFeature)
	}
	if len(project.Configs) > 0 {
		return NewParseError("configs", "configs are not supported", ErrUnsupportedFeature)
	}
	for _, svc := range project.Services {
		if svc.Extends != nil && svc.Extends.File != "" {
			return NewParseError("services."+svc.Name+".extends", "extends is not supported", ErrUnsupportedFeature)
		}
	}
	return nil
}

// convertService converts a compose-go service to our Service type.
func convertService(svc types.ServiceConfig) (Service, error) {
	service := Service{
		Name:        svc.Name,
		Image:       svc.Image,
		Command:     svc.Command,
		Entrypoint:  svc.Entrypoint,
		Environment: make(map[string]string),
		Labels:      make(map[string]string),
		Networks:    make([]string, 0),
		DependsOn:   make([]string, 0),
	}

	if svc.Build != nil {
		service.Build = &BuildConfig{
			Context:    svc.Build.Context,
			Dockerfile: svc.Build.Dockerfile,
			Args:       svc.Build.Args,
		}
	}

	if service.Image == "" && service.Build == nil {
		return Service{}, NewParseError("services."+svc.Name, "service must have image or build", ErrServiceNoImage)
	}

	for _, p := range svc.Ports {
		var published uint32
		if p.Published != "" {
			pub, err := strconv.ParseUint(p.Published, 10, 32)
			if err == nil {
				published = uint32(pub)
			}
		}
		service.Ports = append(service.Ports, Port{
			Target:    p.Target,
			Published: published,
			Protocol:  p.Protocol,
			HostIP:    p.HostIP,
		})
	}

	for k, v := range svc.Environment {
		if v != nil {
			service.Environment[k] = *v
		} else {
			// "KEY" with no value pulls from the caller's environment
			service.Environment[k] = "${" + k + "}"
		}
	}

	for _, v := range svc.Volumes {
		mount := VolumeMount{
			Source:   v.Source,
			Target:   v.Target,
			ReadOnly: v.ReadOnly,
		}
		switch v.Type {
		case "bind":
			mount.Type = VolumeMountTypeBind
		case "volume":
			mount.Type = VolumeMountTypeVolume
		case "tmpfs":
			mount.Type = VolumeMountTypeTmpfs
		default:
			if strings.HasPrefix(v.Source, "./") || strings.HasPrefix(v.Source, "/") || strings.HasPrefix(v.Source, "~") {
				mount.Type = VolumeMountTypeBind
			} else {
				mount.Type = VolumeMountTypeVolume
			}
		}
		service.Volumes = append(service.Volumes, mount)
	}

	for net := range svc.Networks {
		service.Networks = append(service.Networks, net)
	}
	sort.Strings(service.Networks)

	for dep := range svc.DependsOn {
		service.DependsOn = append(service.DependsOn, dep)
	}
	sort.Strings(service.DependsOn)

	service.Restart = RestartPolicy(svc.Restart)

	for k, v := range svc.Labels {
		service.Labels[k] = v
	}

	if svc.HealthCheck != nil && !svc.HealthCheck.Disable {
		service.HealthCheck = &HealthCheck{
			Test: svc.HealthCheck.Test,
		}
		if svc.HealthCheck.Retries != nil {
			service.HealthCheck.Retries = int(*svc.HealthCheck.Retries)
		}
		if svc.HealthCheck.Interval != nil {
			service.HealthCheck.Interval = svc.HealthCheck.Interval.String()
		}
		if svc.HealthCheck.Timeout != nil {
			service.HealthCheck.Timeout = svc.HealthCheck.Timeout.String()
		}
		if svc.HealthCheck.StartPeriod != nil {
			service.HealthCheck.StartPeriod = svc.HealthCheck.StartPeriod.String()
		}
	}

	return service, nil
}

// convertNetwork converts a compose-go network to our Network type.
func convertNetwork(name string, net types.NetworkConfig) Network {
	return Network{
		Name:     name,
		Driver:   net.Driver,
		External: bool(net.External),
		Internal: net.Internal,
		Labels:   net.Labels,
	}
}

// convertVolume converts a compose-go volume to our Volume type.
func convertVolume(name string, vol types.VolumeConfig) Volume {
	return Volume{
		Name:     name,
		Driver:   vol.Driver,
		External: bool(vol.External),
		Labels:   vol.Labels,
	}
}

// sortByDeclaration orders services by their position in the source document.
// Services compose-go invented (none today) sink to the end by name.
func sortByDeclaration(services []Service, declared []string) {
	pos := make(map[string]int, len(declared))
	for i, name := range declared {
		pos[name] = i
	}
	sort.SliceStable(services, func(i, j int) bool {
		pi, iok := pos[services[i].Name]
		pj, jok := pos[services[j].Name]
		if iok && jok {
			return pi < pj
		}
		if iok != jok {
			return iok
		}
		return services[i].Name < services[j].Name
	})
}

// validateDependencies checks every depends_on entry names a declared service.
func validateDependencies(services []Service) error {
	known := make(map[string]bool, len(services))
	for _, svc := range services {
		known[svc.Name] = true
	}
	for _, svc := range services {
		for _, dep := range svc.DependsOn {
			if !known[dep] {
				return NewParseError(
					"services."+svc.Name+".depends_on",
					"unknown service "+strconv.Quote(dep),
					ErrUnknownDependency,
				)
			}
		}
	}
	return nil
}

// validatePorts validates all port configurations.
func validatePorts(services []Service) error {
	for _, svc := range services {
		for i, port := range svc.Ports {
			field := "services." + svc.Name + ".ports[" + strconv.Itoa(i) + "]"
			if port.Target == 0 {
				return NewParseError(field, "target port cannot be 0", ErrServiceInvalidPort)
			}
			if port.Target > 65535 {
				return NewParseError(field, "target port must be <= 65535", ErrServiceInvalidPort)
			}
			if port.Published > 65535 {
				return NewParseError(field, "published port must be <= 65535", ErrServiceInvalidPort)
			}
		}
	}
	return nil
}
