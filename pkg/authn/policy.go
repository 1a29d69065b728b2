package authn

import (
	"errors"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Access はルートが要求する認証レベルを表す。
type Access string

const (
	// AccessPublic はセッション不要のルート。
	AccessPublic Access = "public"
	// AccessAuthenticated は有効なセッションがあればよいルート。
	AccessAuthenticated Access = "authenticated"
	// AccessRestricted はセッションのロールが許可リストに含まれる必要があるルート。
	AccessRestricted Access = "restricted"
)

const (
	// RoleAdmin は管理者ロール。
	RoleAdmin = "ROLE_ADMIN"
	// RoleSuperAdmin は特権管理者ロール。
	RoleSuperAdmin = "ROLE_SUPERADMIN"
)

// RuleConfig はルートごとの設定値。YAMLファイルから読み込む。
type RuleConfig struct {
	// Prefix はパスのプレフィックス。"/"で始まる必要がある。
	Prefix string `yaml:"prefix"`
	// Access は要求する認証レベル。
	Access Access `yaml:"access"`
	// Roles はAccessがrestrictedの場合に許可するロールの一覧。
	Roles []string `yaml:"roles"`
}

// PolicyConfig はPolicyを構築するための設定値。
type PolicyConfig struct {
	// PublicPaths は完全一致で認証を省略するパスの一覧。
	PublicPaths []string `yaml:"public_paths"`
	// DocPatterns はプレフィックス一致で認証を省略するドキュメント系パスの一覧。
	DocPatterns []string `yaml:"doc_patterns"`
	// Routes はプレフィックスごとの認証レベル。
	Routes []RuleConfig `yaml:"routes"`
}

// Rule は1つのプレフィックスに対する認証要件。生成後は変更されない。
type Rule struct {
	prefix string
	access Access
	roles  map[string]struct{}
}

// Prefix はルールのプレフィックスを返す。
func (r Rule) Prefix() string { return r.prefix }

// Access はルールの認証レベルを返す。
func (r Rule) Access() Access { return r.access }

// Roles は許可ロールの一覧をソート済みのコピーで返す。
func (r Rule) Roles() []string {
	roles := make([]string, 0, len(r.roles))
	for role := range r.roles {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	return roles
}

// Allows はロールがこのルールで許可されるかを返す。大文字小文字を区別した完全一致で比較する。
func (r Rule) Allows(role string) bool {
	if r.access != AccessRestricted {
		return true
	}
	_, ok := r.roles[role]
	return ok
}

// matches はパスがプレフィックスに一致するかを返す。
// "/api/v1/users" は "/api/v1/users" と "/api/v1/users/1" に一致し、"/api/v1/usersx" には一致しない。
func (r Rule) matches(p string) bool {
	if !strings.HasPrefix(p, r.prefix) {
		return false
	}
	if len(p) == len(r.prefix) || strings.HasSuffix(r.prefix, "/") {
		return true
	}
	return p[len(r.prefix)] == '/'
}

// defaultRule はどのルールにも一致しないパスに適用されるルール。
var defaultRule = Rule{access: AccessAuthenticated}

// Policy はパスから認証要件を引く不変のテーブル。
// 起動時に一度だけ構築し、リクエスト処理中はロック無しで並行に参照する。
type Policy struct {
	publicPaths map[string]struct{}
	docPatterns []string
	// rules はプレフィックスの長い順に並んでいる。
	rules []Rule
}

// NewPolicy は設定値を検証してPolicyを構築する。
func NewPolicy(cfg PolicyConfig) (*Policy, error) {
	p := &Policy{
		publicPaths: make(map[string]struct{}, len(cfg.PublicPaths)),
		docPatterns: make([]string, 0, len(cfg.DocPatterns)),
		rules:       make([]Rule, 0, len(cfg.Routes)),
	}

	for _, pp := range cfg.PublicPaths {
		if !strings.HasPrefix(pp, "/") {
			return nil, fmt.Errorf("公開パスは\"/\"で始まる必要があります: %q", pp)
		}
		p.publicPaths[pp] = struct{}{}
	}

	for _, dp := range cfg.DocPatterns {
		if !strings.HasPrefix(dp, "/") {
			return nil, fmt.Errorf("ドキュメントパスは\"/\"で始まる必要があります: %q", dp)
		}
		p.docPatterns = append(p.docPatterns, dp)
	}

	seen := make(map[string]struct{}, len(cfg.Routes))
	for _, rc := range cfg.Routes {
		rule, err := newRule(rc)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[rule.prefix]; dup {
			return nil, fmt.Errorf("プレフィックスが重複しています: %q", rule.prefix)
		}
		seen[rule.prefix] = struct{}{}
		p.rules = append(p.rules, rule)
	}

	sort.SliceStable(p.rules, func(i, j int) bool {
		return len(p.rules[i].prefix) > len(p.rules[j].prefix)
	})

	return p, nil
}

func newRule(rc RuleConfig) (Rule, error) {
	if !strings.HasPrefix(rc.Prefix, "/") {
		return Rule{}, fmt.Errorf("プレフィックスは\"/\"で始まる必要があります: %q", rc.Prefix)
	}

	rule := Rule{prefix: rc.Prefix, access: rc.Access, roles: make(map[string]struct{}, len(rc.Roles))}
	switch rc.Access {
	case AccessPublic, AccessAuthenticated:
		if len(rc.Roles) > 0 {
			return Rule{}, fmt.Errorf("%sのルートにロールは指定できません: %q", rc.Access, rc.Prefix)
		}
	case AccessRestricted:
		if len(rc.Roles) == 0 {
			return Rule{}, fmt.Errorf("restrictedのルートには1つ以上のロールが必要です: %q", rc.Prefix)
		}
		for _, role := range rc.Roles {
			if strings.TrimSpace(role) == "" {
				return Rule{}, fmt.Errorf("空のロールが指定されています: %q", rc.Prefix)
			}
			rule.roles[role] = struct{}{}
		}
	default:
		return Rule{}, fmt.Errorf("不明な認証レベルです: %q (prefix=%q)", rc.Access, rc.Prefix)
	}
	return rule, nil
}

// Lookup はパスに適用されるルールを返す。最長プレフィックスが優先される。
// どのルールにも一致しない場合はauthenticatedのルールを返す。
func (p *Policy) Lookup(path string) Rule {
	for _, r := range p.rules {
		if r.matches(path) {
			return r
		}
	}
	return defaultRule
}

// IsPublicPath はパスが公開パス（完全一致）かを返す。
func (p *Policy) IsPublicPath(path string) bool {
	_, ok := p.publicPaths[path]
	return ok
}

// IsDocPath はパスがドキュメント系パス（プレフィックス一致）かを返す。
func (p *Policy) IsDocPath(path string) bool {
	for _, dp := range p.docPatterns {
		if strings.HasPrefix(path, dp) {
			return true
		}
	}
	return false
}

// IsBypass はパスがセッション検証を省略できるかを返す。
func (p *Policy) IsBypass(path string) bool {
	return p.IsPublicPath(path) || p.IsDocPath(path) || p.Lookup(path).access == AccessPublic
}

// Authorize はロールがパスにアクセスできるかを返す。
func (p *Policy) Authorize(path, role string) bool {
	return p.Lookup(path).Allows(role)
}

// servicePrefixes はドキュメント系パスのプレフィックスを持つサービス名。
var servicePrefixes = []string{"user-service", "transaction-service", "inventory-service", "notification-service"}

// DefaultPolicyConfig はデフォルトのロール制御テーブルを返す。
func DefaultPolicyConfig() PolicyConfig {
	docs := make([]string, 0, len(servicePrefixes)*3)
	for _, svc := range servicePrefixes {
		docs = append(docs,
			"/"+svc+"/swagger-ui.html",
			"/"+svc+"/swagger-ui/",
			"/"+svc+"/v3/api-docs",
		)
	}

	return PolicyConfig{
		PublicPaths: []string{"/api/v1/auth/login", "/api/v1/users/exist"},
		DocPatterns: docs,
		Routes: []RuleConfig{
			{Prefix: "/api/v1/users", Access: AccessRestricted, Roles: []string{RoleSuperAdmin}},
			{Prefix: "/api/v1/inventory", Access: AccessRestricted, Roles: []string{RoleAdmin, RoleSuperAdmin}},
			{Prefix: "/api/v1/transactions", Access: AccessRestricted, Roles: []string{RoleAdmin, RoleSuperAdmin}},
			{Prefix: "/api/v1/notifications", Access: AccessRestricted, Roles: []string{RoleAdmin, RoleSuperAdmin}},
		},
	}
}

// DefaultPolicy はデフォルト設定のPolicyを返す。
func DefaultPolicy() *Policy {
	p, err := NewPolicy(DefaultPolicyConfig())
	if err != nil {
		panic(fmt.Sprintf("デフォルトのロール制御テーブルが不正です: %v", err))
	}
	return p
}

// LoadPolicyFile はYAMLファイルからPolicyを構築する。
func LoadPolicyFile(filename string) (*Policy, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("ロール制御ファイルの読み込みに失敗: %w", err)
	}

	var cfg PolicyConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("ロール制御ファイルのパースに失敗: %w", err)
	}
	if len(cfg.PublicPaths) == 0 && len(cfg.DocPatterns) == 0 && len(cfg.Routes) == 0 {
		return nil, errors.New("ロール制御ファイルが空です")
	}
	return NewPolicy(cfg)
}

// AllowList は内部サービスが信頼マーカー無しで受け付けるパスの一覧。
type AllowList struct {
	// Exact は完全一致で許可するパス。
	Exact []string
	// Prefixes はプレフィックス一致で許可するパス。
	Prefixes []string
}

// Allows はパスが許可リストに含まれるかを返す。
func (a AllowList) Allows(path string) bool {
	for _, e := range a.Exact {
		if path == e {
			return true
		}
	}
	for _, prefix := range a.Prefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// ServiceAllowList はサービス名からヘルスチェックとドキュメント系パスの許可リストを作る。
func ServiceAllowList(service string) AllowList {
	return AllowList{
		Exact: []string{"/health"},
		Prefixes: []string{
			"/" + service + "/swagger-ui",
			"/" + service + "/v3/api-docs",
		},
	}
}

// CleanPath はパス中の"."や".."を解決する。末尾のスラッシュは保持する。
// ポリシー判定と転送先の両方で同じパスを使うために用いる。
func CleanPath(p string) string {
	if p == "" {
		return "/"
	}
	if p[0] != '/' {
		p = "/" + p
	}
	cleaned := path.Clean(p)
	if strings.HasSuffix(p, "/") && cleaned != "/" {
		cleaned += "/"
	}
	return cleaned
}
