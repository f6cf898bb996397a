package domain

// HostInfo is posted to the registration endpoint so the backend can
// identify the device and pick a configuration for it.
type HostInfo struct {
	AgentVersion          string  `json:"agent_version"`
	AgentExecutablePath   string  `json:"agent_executable_path"`
	ServiceExecutablePath string  `json:"service_executable_path"`
	Hostname              string  `json:"hostname"`
	MACAddress            string  `json:"mac_address"`
	OperatingSystem       string  `json:"operating_system"`
	CPUModel              string  `json:"cpu_model"`
	RAMGB                 float64 `json:"ram_gb"`
	ADDomain              *string `json:"ad_domain"`
	IsADDomainController  bool    `json:"is_ad_domain_controller"`
	IsEntraConnectServer  bool    `json:"is_entra_connect_server"`
	EntraDomain           *string `json:"entra_domain"`
	OrgID                 string  `json:"org_id"`
}

// InstallationInfo answers a get_installation request.
type InstallationInfo struct {
	ServiceExecutablePath string   `json:"service_executable_path"`
	AgentExecutablePath   string   `json:"agent_executable_path"`
	ConfigFilePath        string   `json:"config_file_path"`
	ServiceManagerPath    string   `json:"service_manager_path"`
	Tags                  HostInfo `json:"tags"`
}
