package scraper

import (
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/ysmood/gson"

	"github.com/use-agent/regscout/config"
)

// webdriverJS hides navigator.webdriver even where stealth.JS does not
// reach (workers, late-bound getters).
const webdriverJS = `(() => {
	Object.defineProperty(Navigator.prototype, 'webdriver', { get: () => undefined, configurable: true });
})();`

// applyStealth installs the countermeasures on a fresh page. It must run
// before the first navigation; scripts added later only affect later
// documents.
func applyStealth(p *rod.Page, cfg config.EngineConfig) error {
	if _, err := p.EvalOnNewDocument(stealth.JS); err != nil {
		return err
	}
	if _, err := p.EvalOnNewDocument(webdriverJS); err != nil {
		return err
	}

	if err := (proto.NetworkEnable{}).Call(p); err != nil {
		return err
	}
	if err := (proto.NetworkSetUserAgentOverride{
		UserAgent:      cfg.UserAgent,
		AcceptLanguage: cfg.AcceptLanguage,
		Platform:       "Win32",
	}).Call(p); err != nil {
		return err
	}
	if err := (proto.NetworkSetExtraHTTPHeaders{
		Headers: toHeadersMap(map[string]string{"Accept-Language": cfg.AcceptLanguage}),
	}).Call(p); err != nil {
		return err
	}

	return proto.EmulationSetDeviceMetricsOverride{
		Width:             cfg.Viewport.Width,
		Height:            cfg.Viewport.Height,
		DeviceScaleFactor: cfg.Viewport.DeviceScale,
		Mobile:            false,
	}.Call(p)
}

// toHeadersMap converts a plain string map to the proto.NetworkHeaders type
// (map[string]gson.JSON) required by NetworkSetExtraHTTPHeaders.
func toHeadersMap(headers map[string]string) proto.NetworkHeaders {
	m := make(proto.NetworkHeaders, len(headers))
	for k, v := range headers {
		m[k] = gson.New(v)
	}
	return m
}
