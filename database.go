package main

import (
	"os"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// DBClient abstracts article and script storage so handlers and the avatar
// pipeline can be tested against an in-memory fake.
type DBClient interface {
	GetArticle(id uint) (*NewsArticle, error)
	ListArticles(category string) ([]NewsArticle, error)
	ArticleExistsByURL(url string) (bool, error)
	CreateArticle(article *NewsArticle) error

	GetScriptByNewsID(newsID uint) (*AnchoringScript, error)
	ListScripts(category string) ([]AnchoringScript, error)
	CreateScript(script *AnchoringScript) error
}

// Models

type NewsArticle struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	Title       string     `gorm:"size:500;not null" json:"title"`
	Description string     `gorm:"type:text" json:"description"`
	URL         string     `gorm:"size:500;uniqueIndex;not null" json:"url"`
	Source      string     `gorm:"size:100" json:"source"`
	Category    string     `gorm:"size:50" json:"category"`
	PublishedAt *time.Time `json:"published_at"`
	CreatedAt   time.Time  `json:"created_at"`
}

func (NewsArticle) TableName() string {
	return "news_article"
}

type AnchoringScript struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	NewsID    uint           `gorm:"column:news_id;uniqueIndex;not null" json:"news_id"`
	News      NewsArticle    `gorm:"foreignKey:NewsID;constraint:OnDelete:CASCADE" json:"-"`
	Script    string         `gorm:"type:text;not null" json:"script"`
	Keywords  pq.StringArray `gorm:"type:text[];default:'{}'" json:"keywords"`
	CreatedAt time.Time      `json:"created_at"`
}

func (AnchoringScript) TableName() string {
	return "anchoring_script"
}

// PostgresClient implementation

type PostgresClient struct {
	db *gorm.DB
}

func NewPostgresClient(dsn string) (*PostgresClient, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to database")
	}

	if err := db.AutoMigrate(&NewsArticle{}, &AnchoringScript{}); err != nil {
		return nil, errors.Wrap(err, "failed to migrate schema")
	}

	return &PostgresClient{db: db}, nil
}

func (p *PostgresClient) GetArticle(id uint) (*NewsArticle, error) {
	var article NewsArticle
	err := p.db.First(&article, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "error loading article")
	}
	return &article, nil
}

func (p *PostgresClient) ListArticles(category string) ([]NewsArticle, error) {
	var articles []NewsArticle
	q := p.db.Order("published_at DESC NULLS LAST")
	if category != "" {
		q = q.Where("category = ?", category)
	}
	if err := q.Find(&articles).Error; err != nil {
		return nil, errors.Wrap(err, "error listing articles")
	}
	return articles, nil
}

func (p *PostgresClient) ArticleExistsByURL(url string) (bool, error) {
	var count int64
	if err := p.db.Model(&NewsArticle{}).Where("url = ?", url).Count(&count).Error; err != nil {
		return false, errors.Wrap(err, "error checking article URL")
	}
	return count > 0, nil
}

func (p *PostgresClient) CreateArticle(article *NewsArticle) error {
	if err := p.db.Create(article).Error; err != nil {
		return errors.Wrap(err, "error saving article")
	}
	return nil
}

func (p *PostgresClient) GetScriptByNewsID(newsID uint) (*AnchoringScript, error) {
	var script AnchoringScript
	err := p.db.Where("news_id = ?", newsID).First(&script).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "error loading script")
	}
	return &script, nil
}

func (p *PostgresClient) ListScripts(category string) ([]AnchoringScript, error) {
	var scripts []AnchoringScript
	q := p.db.Order("id ASC")
	if category != "" {
		q = q.Joins("JOIN news_article ON news_article.id = anchoring_script.news_id").
			Where("news_article.category = ?", category)
	}
	if err := q.Find(&scripts).Error; err != nil {
		return nil, errors.Wrap(err, "error listing scripts")
	}
	return scripts, nil
}

func (p *PostgresClient) CreateScript(script *AnchoringScript) error {
	if err := p.db.Create(script).Error; err != nil {
		return errors.Wrap(err, "error saving script")
	}
	return nil
}

func initDB() (DBClient, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		return nil, errors.New("DATABASE_URL environment variable is not set")
	}
	return NewPostgresClient(dsn)
}
