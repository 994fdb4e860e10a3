package compiler

// NewFormatPrecompiler returns a Direct instance configured to build a
// .fmt file from cfg's preamble instead of compiling a body. The
// caller is responsible for pointing cfg.OutputDirectory at the
// daemon-owned format-temp-dir so the resulting "<jobname>.fmt" lands
// there rather than in the real output directory.
func NewFormatPrecompiler(cfg Config) *Direct {
	cfg.FormatMode = FormatPrecompile
	return NewDirect(cfg)
}

// FormatPath returns the path .fmt file produced by a successful
// format precompile for jobname in dir.
func FormatPath(dir, jobname string) string { return fmtPath(dir, jobname) }

// PDFPath and LogPath return the well-known artifact paths for a
// successful compile of jobname in dir.
func PDFPath(dir, jobname string) string { return pdfPath(dir, jobname) }
func LogPath(dir, jobname string) string { return logPath(dir, jobname) }
