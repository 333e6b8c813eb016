package config

// deploymentSchema constrains CUE configuration files before they are
// decoded. It mirrors the validator tags on DeploymentConfig so CUE users
// get positioned errors, and closes the struct so misspelled fields fail.
const deploymentSchema = `
#Identifier: =~"^[A-Za-z0-9][A-Za-z0-9_-]*$"
#Identity:   =~"^[a-z0-9][a-z0-9-]*$"

#Function: {
	name:               #Identifier
	handler?:           string
	needs_shared_code?: bool
}

#Deployment: {
	deployment_id:     #Identity
	service_name:      #Identity
	region?:           string
	root?:             string
	data_dir?:         string
	code_path:         string
	source_path?:      string
	manifest_path?:    string
	function_timeout?: int & >=1 & <=900
	runtime?:          string
	memory_size?:      int & >=128 & <=10240
	functions?: [...#Function]
	resume_function?: string
	endpoint?:        string
	install_command?: [...string]
}
`
