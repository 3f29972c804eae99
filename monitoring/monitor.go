// Package monitoring serves a read-only HTTP view of a pmap manager: its
// address spaces, page tables, processors, and the trust gate.
package monitoring

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"strconv"
	"sync"
	"time"

	// Enable profiling
	_ "net/http/pprof"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/sarchlab/pmap/monitoring/web"
	"github.com/sarchlab/pmap/vm"
	"github.com/sarchlab/pmap/vm/pmap"
	"github.com/sarchlab/pmap/vm/trust"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"
)

// Monitor turns a pmap manager into a server that external tools can
// inspect while a workload runs.
type Monitor struct {
	mgr        *pmap.Manager
	portNumber int

	progressBarsLock sync.Mutex
	progressBars     []*ProgressBar
}

// NewMonitor creates a new Monitor
func NewMonitor() *Monitor {
	return &Monitor{}
}

// WithPortNumber sets the port number of the monitor.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber < 1000 {
		fmt.Fprintf(os.Stderr,
			"Port number %d is assigned to the monitoring server, "+
				"which is not allowed. Using a random port instead.\n", portNumber)
		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// RegisterManager sets the manager to be monitored.
func (m *Monitor) RegisterManager(mgr *pmap.Manager) {
	m.mgr = mgr
}

// CreateProgressBar creates a new progress bar.
func (m *Monitor) CreateProgressBar(name string, total uint64) *ProgressBar {
	bar := newProgressBar(name, total)

	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	m.progressBars = append(m.progressBars, bar)

	return bar
}

// CompleteProgressBar removes a bar to be shown on the webpage.
func (m *Monitor) CompleteProgressBar(pb *ProgressBar) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	newBars := make([]*ProgressBar, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		if b != pb {
			newBars = append(newBars, b)
		}
	}

	m.progressBars = newBars
}

// Router returns the handler that serves the API and the web page.
func (m *Monitor) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/api/pmaps", m.listPmaps)
	r.HandleFunc("/api/pmap/{asid}", m.pmapDetails)
	r.HandleFunc("/api/pmap/{asid}/tables", m.dumpTables)
	r.HandleFunc("/api/pmap/{asid}/page/{va}", m.queryPage)
	r.HandleFunc("/api/cpus", m.listCPUs)
	r.HandleFunc("/api/trust", m.trustConfiguration)
	r.HandleFunc("/api/progress", m.listProgressBars)
	r.HandleFunc("/api/resource", m.listResources)
	r.HandleFunc("/api/profile", m.collectProfile)
	r.PathPrefix("/debug/pprof/").Handler(http.DefaultServeMux)
	r.PathPrefix("/").Handler(http.FileServer(web.GetAssets()))

	return r
}

// StartServer starts the monitor as a web server and returns the port it
// listens on.
func (m *Monitor) StartServer() int {
	actualPort := ":0"
	if m.portNumber > 1000 {
		actualPort = ":" + strconv.Itoa(m.portNumber)
	}

	listener, err := net.Listen("tcp", actualPort)
	dieOnErr(err)

	port := listener.Addr().(*net.TCPAddr).Port

	fmt.Fprintf(os.Stderr, "Monitoring pmap with http://localhost:%d\n", port)

	router := m.Router()

	go func() {
		err := http.Serve(listener, router)
		dieOnErr(err)
	}()

	return port
}

type windowRsp struct {
	Sub   uint32   `json:"sub"`
	Start vm.VAddr `json:"start"`
	End   vm.VAddr `json:"end"`
}

type pmapRsp struct {
	ASID       uint32      `json:"asid"`
	Kernel     bool        `json:"kernel"`
	PID        int         `json:"pid"`
	Process    string      `json:"process,omitempty"`
	Flags      uint32      `json:"flags"`
	PageSize   uint64      `json:"page_size"`
	SizeBound  vm.VAddr    `json:"size_bound"`
	RefCount   int32       `json:"ref_count"`
	Resident   int         `json:"resident"`
	Compressed int         `json:"compressed"`
	Wired      int         `json:"wired"`
	Tables     int         `json:"tables"`
	Windows    []windowRsp `json:"windows,omitempty"`
}

func summarize(p *pmap.Pmap) pmapRsp {
	pid, name := p.Process()
	resident, compressed, wired := p.Stats()

	rsp := pmapRsp{
		ASID:       p.ASID(),
		Kernel:     p.IsKernel(),
		PID:        pid,
		Process:    name,
		Flags:      uint32(p.Flags()),
		PageSize:   p.QueryPageSize(),
		SizeBound:  p.SizeBound(),
		RefCount:   p.RefCount(),
		Resident:   resident,
		Compressed: compressed,
		Wired:      wired,
		Tables:     p.NumTables(),
	}

	for _, w := range p.Windows() {
		rsp.Windows = append(rsp.Windows,
			windowRsp{Sub: w.Sub.ASID(), Start: w.Start, End: w.End})
	}

	return rsp
}

func (m *Monitor) listPmaps(w http.ResponseWriter, _ *http.Request) {
	spaces := m.mgr.Pmaps()

	rsp := make([]pmapRsp, 0, len(spaces))
	for _, p := range spaces {
		rsp = append(rsp, summarize(p))
	}

	writeJSON(w, rsp)
}

func (m *Monitor) pmapDetails(w http.ResponseWriter, r *http.Request) {
	p := m.findPmapOr404(w, r)
	if p == nil {
		return
	}

	rsp := summarize(p)

	serializer := goseth.NewSerializer()
	serializer.SetRoot(&rsp)
	serializer.SetMaxDepth(2)
	err := serializer.Serialize(w)

	dieOnErr(err)
}

func (m *Monitor) dumpTables(w http.ResponseWriter, r *http.Request) {
	p := m.findPmapOr404(w, r)
	if p == nil {
		return
	}

	levelMask := pmap.DumpTables | pmap.DumpLeaves
	if s := r.URL.Query().Get("level"); s != "" {
		v, err := strconv.ParseUint(s, 0, 32)
		if err != nil {
			http.Error(w, "bad level mask", http.StatusBadRequest)
			return
		}

		levelMask = uint32(v)
	}

	var buf []byte

	for {
		n, err := p.DumpPageTables(buf, levelMask)
		if errors.Is(err, vm.ErrInsufficientBuffer) {
			buf = make([]byte, n)
			continue
		}

		if err != nil {
			writeError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/x-ndjson")
		_, err = w.Write(buf[:n])
		dieOnErr(err)

		return
	}
}

type pageRsp struct {
	VA                vm.VAddr `json:"va"`
	Present           bool     `json:"present"`
	Reusable          bool     `json:"reusable"`
	Internal          bool     `json:"internal"`
	AltAcct           bool     `json:"alt_acct"`
	Compressed        bool     `json:"compressed"`
	CompressedAltAcct bool     `json:"compressed_alt_acct"`
	PPN               vm.PPN   `json:"ppn,omitempty"`
	Prot              string   `json:"prot,omitempty"`
	Wired             bool     `json:"wired,omitempty"`
	Owner             uint32   `json:"owner,omitempty"`
}

func (m *Monitor) queryPage(w http.ResponseWriter, r *http.Request) {
	p := m.findPmapOr404(w, r)
	if p == nil {
		return
	}

	va, err := strconv.ParseUint(mux.Vars(r)["va"], 0, 64)
	if err != nil {
		http.Error(w, "bad virtual address", http.StatusBadRequest)
		return
	}

	info, err := p.QueryPageInfo(vm.VAddr(va))
	if err != nil {
		writeError(w, err)
		return
	}

	rsp := pageRsp{
		VA:                vm.VAddr(va),
		Present:           info.Has(vm.PageInfoPresent),
		Reusable:          info.Has(vm.PageInfoReusable),
		Internal:          info.Has(vm.PageInfoInternal),
		AltAcct:           info.Has(vm.PageInfoAltAcct),
		Compressed:        info.Has(vm.PageInfoCompressed),
		CompressedAltAcct: info.Has(vm.PageInfoCompressedAltAcct),
	}

	if mapping, ok := p.Lookup(vm.VAddr(va)); ok {
		rsp.PPN = mapping.PPN
		rsp.Prot = mapping.Prot.String()
		rsp.Wired = mapping.Wired
		rsp.Owner = mapping.Owner.ASID()
	}

	writeJSON(w, rsp)
}

type cpuRsp struct {
	ID         int    `json:"id"`
	Active     uint32 `json:"active"`
	Generation uint64 `json:"generation"`
	Flushes    uint64 `json:"flushes"`
	Cached     int    `json:"cached"`
}

func (m *Monitor) listCPUs(w http.ResponseWriter, _ *http.Request) {
	procs := m.mgr.Processors()

	rsp := make([]cpuRsp, 0, len(procs))
	for _, c := range procs {
		rsp = append(rsp, cpuRsp{
			ID:         c.ID(),
			Active:     c.Active().ASID(),
			Generation: c.Generation(),
			Flushes:    c.Flushes(),
			Cached:     len(c.CachedEntries()),
		})
	}

	writeJSON(w, rsp)
}

type trustRsp struct {
	Enabled            bool   `json:"enabled"`
	Configuration      uint32 `json:"configuration"`
	DeveloperMode      bool   `json:"developer_mode"`
	AllowInvalidCode   bool   `json:"allow_invalid_code"`
	RelaxedLocalSign   bool   `json:"relaxed_local_signing"`
	HasMonitor         bool   `json:"has_monitor"`
	ProtectedWrite     bool   `json:"protected_write"`
	LoadedTrustCaches  int    `json:"loaded_trust_caches"`
	LocalSigningKeySet bool   `json:"local_signing_key_set"`
}

func (m *Monitor) trustConfiguration(w http.ResponseWriter, _ *http.Request) {
	gate := m.mgr.Gate()

	rsp := trustRsp{Enabled: gate.Enabled()}

	if g, ok := gate.(*trust.Gate); ok {
		c := g.Configuration()
		rsp.Configuration = uint32(c)
		rsp.DeveloperMode = c&trust.ConfigDeveloperMode != 0
		rsp.AllowInvalidCode = c&trust.ConfigAllowInvalidCode != 0
		rsp.RelaxedLocalSign = c&trust.ConfigRelaxedLocalSigning != 0
		rsp.HasMonitor = g.HasMonitor()
		rsp.ProtectedWrite = g.HasProtectedWrite()
		rsp.LoadedTrustCaches = g.NumLoadedTrustCaches()
		rsp.LocalSigningKeySet = g.GetLocalSigningPublicKey() != nil
	}

	writeJSON(w, rsp)
}

func (m *Monitor) findPmapOr404(
	w http.ResponseWriter,
	r *http.Request,
) *pmap.Pmap {
	asid, err := strconv.ParseUint(mux.Vars(r)["asid"], 0, 32)
	if err != nil {
		http.Error(w, "bad ASID", http.StatusBadRequest)
		return nil
	}

	p, ok := m.mgr.Lookup(uint32(asid))
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		_, err := w.Write([]byte("Address space not found"))
		dieOnErr(err)

		return nil
	}

	return p
}

func (m *Monitor) listProgressBars(w http.ResponseWriter, _ *http.Request) {
	m.progressBarsLock.Lock()
	rsp := make([]progressRsp, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		rsp = append(rsp, b.snapshot())
	}
	m.progressBarsLock.Unlock()

	writeJSON(w, rsp)
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	pid := os.Getpid()
	process, err := process.NewProcess(int32(pid))
	dieOnErr(err)

	cpuPercent, err := process.CPUPercent()
	dieOnErr(err)

	memorySize, err := process.MemoryInfo()
	dieOnErr(err)

	writeJSON(w, resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memorySize.RSS,
	})
}

func (m *Monitor) collectProfile(w http.ResponseWriter, _ *http.Request) {
	buf := bytes.NewBuffer(nil)

	err := pprof.StartCPUProfile(buf)
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	time.Sleep(time.Second)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	dieOnErr(err)

	writeJSON(w, prof)
}

func writeJSON(w http.ResponseWriter, v any) {
	bytes, err := json.Marshal(v)
	dieOnErr(err)

	w.Header().Set("Content-Type", "application/json")
	_, err = w.Write(bytes)
	dieOnErr(err)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	var e *vm.Error
	if errors.As(err, &e) {
		switch e.Kind {
		case vm.KindInvalidArgument:
			status = http.StatusBadRequest
		case vm.KindNotFound:
			status = http.StatusNotFound
		case vm.KindResourceShortage:
			status = http.StatusServiceUnavailable
		}
	}

	http.Error(w, err.Error(), status)
}

func dieOnErr(err error) {
	if err != nil {
		log.Panic(err)
	}
}
