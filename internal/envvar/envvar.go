package envvar

const (
	// UnetpxEnv is the environment variable used to determine the environment
	UnetpxEnv = "UNETPX_ENV"

	// UnetpxCacheDir is the environment variable overriding the weights cache directory
	UnetpxCacheDir = "UNETPX_CACHE_DIR"

	// UnetpxHTTPPort is the environment variable used to determine the HTTP port
	UnetpxHTTPPort = "UNETPX_HTTP_PORT"

	// UnetpxWeights points at a local checkpoint file, bypassing provisioning
	UnetpxWeights = "UNETPX_WEIGHTS"
)
