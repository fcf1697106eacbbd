package hclconf

type Config struct {
	Domain         string   `hcl:"domain,attr"`
	ProbeSubdomain *string  `hcl:"probe_subdomain,attr"`
	Network        *string  `hcl:"network,attr"`
	Strategy       *string  `hcl:"strategy,attr"`
	Manifest       *string  `hcl:"manifest,attr"`
	Branches       []string `hcl:"branches,optional"`
	PublicIPURL    *string  `hcl:"public_ip_url,attr"`

	Proxy    *Proxy    `hcl:"proxy,block"`
	Timeouts *Timeouts `hcl:"timeouts,block"`
	Runtime  *Runtime  `hcl:"runtime,block"`
	Lock     *Lock     `hcl:"lock,block"`
	Metrics  *Metrics  `hcl:"metrics,block"`

	Services []Service `hcl:"service,block"`
}

type Service struct {
	Name string `hcl:"name,label"`

	Source        string   `hcl:"source,attr"`
	Port          *int     `hcl:"port,attr"`
	ContainerHint *string  `hcl:"container_hint,attr"`
	Branches      []string `hcl:"branches,optional"`
	Manifest      *string  `hcl:"manifest,attr"`
}

type Proxy struct {
	Container       *string `hcl:"container,attr"`
	Image           *string `hcl:"image,attr"`
	LabelsImage     *string `hcl:"labels_image,attr"`
	PassthroughPort *int    `hcl:"passthrough_port,attr"`
}

type Timeouts struct {
	Sync     *string `hcl:"sync,attr"`
	Build    *string `hcl:"build,attr"`
	Discover *string `hcl:"discover,attr"`
	Proxy    *string `hcl:"proxy,attr"`
	Install  *string `hcl:"install,attr"`
}

type Runtime struct {
	InstallScript     *string `hcl:"install_script,attr"`
	ComposeConstraint *string `hcl:"compose_constraint,attr"`
}

type Lock struct {
	StaleAfter *string `hcl:"stale_after,attr"`
}

type Metrics struct {
	PushGateway *string `hcl:"push_gateway,attr"`
}
