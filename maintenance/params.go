package maintenance

// defaultMinTraces is the minimum number of usable traces before a compile
// is attempted.
const defaultMinTraces = 3

// ControllerParams configures a Controller. Construct with NewControllerParams
// and the With* options below.
type ControllerParams struct {
	minTraces      int
	recompile      bool
	outputText     bool
	inodeTextcache string
	verbose        bool
	baseDir        string
}

// Option is a functional option for ControllerParams.
type Option func(*ControllerParams)

// NewControllerParams builds ControllerParams with the defaults
// (min_traces=3, recompile=false) applied before opts.
func NewControllerParams(baseDir string, opts ...Option) ControllerParams {
	params := ControllerParams{
		minTraces: defaultMinTraces,
		baseDir:   baseDir,
	}
	for _, opt := range opts {
		opt(&params)
	}
	return params
}

// WithMinTraces overrides the default minimum-evidence threshold.
func WithMinTraces(n int) Option {
	return func(p *ControllerParams) {
		p.minTraces = n
	}
}

// WithRecompile forces compilation even when the derived output file
// already exists on disk.
func WithRecompile(recompile bool) Option {
	return func(p *ControllerParams) {
		p.recompile = recompile
	}
}

// WithOutputText passes the text-output flag through to the compiler.
func WithOutputText(outputText bool) Option {
	return func(p *ControllerParams) {
		p.outputText = outputText
	}
}

// WithInodeTextcache forwards an inode textcache path to the compiler.
func WithInodeTextcache(path string) Option {
	return func(p *ControllerParams) {
		p.inodeTextcache = path
	}
}

// WithVerbose forwards the verbose flag to the compiler.
func WithVerbose(verbose bool) Option {
	return func(p *ControllerParams) {
		p.verbose = verbose
	}
}
